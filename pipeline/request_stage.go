package pipeline

import (
	"context"
	"fmt"

	"coda/codec"
	"coda/data"

	"go.uber.org/zap"
)

// RequestStage 请求阶段, 解码请求并按 API key 路由, 自身不做持久化
type RequestStage struct {
	in        *Ring[RequestEvent]
	store     *Ring[StoreEvent]
	codec     codec.Codec
	schemas   codec.APISchemas
	responder Responder
	logger    *zap.Logger
	stats     *counters
	done      chan struct{}
}

func (s *RequestStage) run() error {
	defer close(s.done)
	for ev := range s.in.C() {
		s.safeHandle(ev)
	}
	return nil
}

// 单个事件的失败不能影响消费者继续处理后面的事件
func (s *RequestStage) safeHandle(ev RequestEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("request handler panicked", zap.String("conn", ev.ConnID), zap.Any("panic", r))
			s.stats.dropped.Add(1)
		}
	}()
	s.handle(ev)
}

func (s *RequestStage) handle(ev RequestEvent) {
	ev.State = StateCreated
	s.stats.received.Add(1)

	schema, err := s.schemas.SchemaName(ev.APIKey)
	if err != nil {
		s.stats.unsupported.Add(1)
		s.reject(ev, data.RequestHeader{}, data.ErrCodeUnsupportedOperation,
			fmt.Sprintf("unknown api key %d", ev.APIKey))
		return
	}

	record, err := s.codec.Deserialize(schema, ev.Payload)
	if err != nil {
		s.logger.Warn("failed to decode request",
			zap.String("conn", ev.ConnID), zap.String("api", data.APIName(ev.APIKey)), zap.Error(err))
		s.stats.decodeErrors.Add(1)
		s.reject(ev, data.RequestHeader{}, data.ErrCodeCorruptMessage, err.Error())
		return
	}
	ev.Record = record
	ev.State = StateDecoded
	s.stats.decoded.Add(1)

	switch req := record.(type) {
	case *data.ProduceRequest:
		storeEv := StoreEvent{
			ConnID: ev.ConnID,
			Header: req.Header,
			Puts:   req.Queues,
			State:  StateRouted,
		}
		if err := s.store.Publish(context.Background(), storeEv); err != nil {
			s.logger.Warn("failed to publish store event", zap.String("conn", ev.ConnID), zap.Error(err))
			s.stats.dropped.Add(1)
			return
		}
		s.stats.routed.Add(1)
	default:
		s.stats.unsupported.Add(1)
		s.reject(ev, requestHeader(record), data.ErrCodeUnsupportedOperation,
			fmt.Sprintf("%s is not handled", data.APIName(ev.APIKey)))
	}
}

// 请求无法处理, 返回一个明确的错误响应, 避免客户端一直等待
func (s *RequestStage) reject(ev RequestEvent, header data.RequestHeader, errorCode int16, message string) {
	ev.State = StateDropped
	s.logger.Debug("request rejected",
		zap.String("conn", ev.ConnID), zap.Int16("api_key", ev.APIKey), zap.Stringer("state", ev.State))
	resp := &data.ErrorResponse{
		Header:    data.ResponseHeader{CorrelationID: header.CorrelationID},
		APIKey:    ev.APIKey,
		ErrorCode: errorCode,
		Message:   message,
	}
	buf, err := s.codec.Serialize(resp)
	if err != nil {
		s.logger.Error("failed to serialize error response", zap.String("conn", ev.ConnID), zap.Error(err))
		s.stats.dropped.Add(1)
		return
	}
	if err := s.responder.Respond(ResponseEvent{ConnID: ev.ConnID, Buffer: buf, State: StateResponseBuilt}); err != nil {
		s.logger.Warn("failed to hand off error response", zap.String("conn", ev.ConnID), zap.Error(err))
	}
}

func requestHeader(record interface{}) data.RequestHeader {
	switch req := record.(type) {
	case *data.ProduceRequest:
		return req.Header
	case *data.FetchRequest:
		return req.Header
	case *data.ListOffsetsRequest:
		return req.Header
	case *data.MetadataRequest:
		return req.Header
	default:
		return data.RequestHeader{}
	}
}
