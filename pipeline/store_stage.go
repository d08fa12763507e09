package pipeline

import (
	"time"

	"coda/codec"
	"coda/data"
	"coda/store"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// StoreStage 存储阶段, 分区日志唯一的写入者
type StoreStage struct {
	in        *Ring[StoreEvent]
	resolver  LogResolver
	codec     codec.Codec
	responder Responder
	logger    *zap.Logger
	stats     *counters
	done      chan struct{}
}

func (s *StoreStage) run() error {
	defer close(s.done)
	for ev := range s.in.C() {
		s.safeHandle(ev)
	}
	return nil
}

func (s *StoreStage) safeHandle(ev StoreEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("store handler panicked", zap.String("conn", ev.ConnID), zap.Any("panic", r))
			s.stats.dropped.Add(1)
		}
	}()
	s.handle(ev)
}

func (s *StoreStage) handle(ev StoreEvent) {
	resp := &data.PutResponse{
		Header:  data.ResponseHeader{CorrelationID: ev.Header.CorrelationID},
		Results: make([]data.QueuePutResult, 0, len(ev.Puts)),
	}
	for _, put := range ev.Puts {
		result := data.QueuePutResult{
			Queue:        put.Queue,
			ShardResults: make([]data.ShardPutResult, 0, len(put.Shards)),
		}
		for _, shard := range put.Shards {
			result.ShardResults = append(result.ShardResults, s.persist(put.Queue, shard))
		}
		resp.Results = append(resp.Results, result)
	}
	ev.State = StatePersisted

	buf, err := s.codec.Serialize(resp)
	if err != nil {
		s.logger.Error("failed to serialize put response", zap.String("conn", ev.ConnID), zap.Error(err))
		s.stats.dropped.Add(1)
		return
	}
	ev.State = StateResponseBuilt

	if err := s.responder.Respond(ResponseEvent{ConnID: ev.ConnID, Buffer: buf, State: ev.State}); err != nil {
		s.logger.Warn("failed to hand off put response", zap.String("conn", ev.ConnID), zap.Error(err))
	}
}

func (s *StoreStage) persist(queue string, shard data.ShardRecords) data.ShardPutResult {
	result := data.ShardPutResult{ShardID: shard.ShardID, Offset: -1}

	log, err := s.resolver.Log(queue, shard.ShardID)
	if err == nil {
		var appended *store.AppendResult
		if appended, err = log.AppendNext(data.NewRecordBatch(shard.Records...)); err == nil {
			s.stats.persisted.Add(1)
			result.Offset = appended.FirstOffset
			result.Timestamp = appended.Timestamp
			return result
		}
	}

	s.logger.Warn("failed to persist shard records",
		zap.String("queue", queue), zap.Int32("shard", shard.ShardID), zap.Error(err))
	s.stats.storeErrors.Add(1)
	result.ErrorCode = ErrorCode(err)
	result.Timestamp = time.Now().UnixMilli()
	return result
}

// ErrorCode 把存储错误映射为响应中的错误码
func ErrorCode(err error) int16 {
	switch {
	case err == nil:
		return data.ErrCodeNone
	case errors.Is(err, ErrShardNotFound):
		return data.ErrCodeShardNotFound
	case errors.Is(err, store.ErrSegmentFull):
		return data.ErrCodeSegmentFull
	case errors.Is(err, store.ErrEmptyBatch):
		return data.ErrCodeCorruptMessage
	case errors.Is(err, ErrUnsupportedAPI):
		return data.ErrCodeUnsupportedOperation
	default:
		return data.ErrCodeStorage
	}
}
