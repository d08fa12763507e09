package coda

import (
	"errors"

	"coda/pipeline"
)

var (
	ErrQueueNameInvalid       = errors.New("the queue name is invalid")
	ErrShardIDInvalid         = errors.New("the shard id must not be negative")
	ErrShardExists            = errors.New("shard already exists")
	ErrDataDirectoryCorrupted = errors.New("the data directory maybe corrupted")
	ErrExceedMaxBatchNum      = errors.New("exceed the max batch num")
	ErrDirIsUsing             = errors.New("the data directory is used by another process")
	ErrBrokerClosed           = errors.New("broker is closed")

	// ErrShardNotFound 与流水线共用, 便于映射为响应中的错误码
	ErrShardNotFound = pipeline.ErrShardNotFound
)
