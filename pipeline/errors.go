package pipeline

import "errors"

var (
	ErrQueueClosed        = errors.New("pipeline queue is closed")
	ErrPipelineStarted    = errors.New("pipeline already started")
	ErrPipelineNotStarted = errors.New("pipeline not started")
	ErrNetworkRequired    = errors.New("pipeline network is required")
	ErrResolverRequired   = errors.New("pipeline log resolver is required")
	ErrShardNotFound      = errors.New("shard not found")
	ErrUnsupportedAPI     = errors.New("unsupported operation")
)
