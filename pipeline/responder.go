package pipeline

import (
	"sync"

	"github.com/eapache/channels"
	"go.uber.org/zap"
)

// Responder 把构造好的响应交给网络层
type Responder interface {
	Respond(ev ResponseEvent) error
}

// 直接写回网络层, 每个响应都单独唤醒一次
type directResponder struct {
	network Network
	stats   *counters
}

func (d *directResponder) Respond(ev ResponseEvent) error {
	if ev.Buffer == nil {
		d.stats.dropped.Add(1)
		return nil
	}
	if err := d.network.AttachForWrite(ev.ConnID, ev.Buffer); err != nil {
		d.stats.dropped.Add(1)
		return err
	}
	d.network.WakeUp()
	d.stats.handedOff.Add(1)
	return nil
}

// ResponseStage 响应阶段, 把一段时间内积累的响应批量挂到连接上, 每批只唤醒一次网络层
type ResponseStage struct {
	batch   *channels.BatchingChannel
	network Network
	logger  *zap.Logger
	stats   *counters

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func newResponseStage(size int, network Network, logger *zap.Logger, stats *counters) *ResponseStage {
	return &ResponseStage{
		batch:   channels.NewBatchingChannel(channels.BufferCap(size)),
		network: network,
		logger:  logger.Named("response"),
		stats:   stats,
		done:    make(chan struct{}),
	}
}

// Respond 把响应放入批处理队列, 队列满时阻塞
func (s *ResponseStage) Respond(ev ResponseEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrQueueClosed
	}
	s.batch.In() <- ev
	return nil
}

func (s *ResponseStage) run() error {
	defer close(s.done)
	for out := range s.batch.Out() {
		events := out.([]interface{})
		var attached int
		for _, v := range events {
			ev := v.(ResponseEvent)
			if ev.Buffer == nil {
				s.stats.dropped.Add(1)
				continue
			}
			if err := s.network.AttachForWrite(ev.ConnID, ev.Buffer); err != nil {
				s.logger.Warn("failed to attach response", zap.String("conn", ev.ConnID), zap.Error(err))
				s.stats.dropped.Add(1)
				continue
			}
			attached++
		}
		if attached > 0 {
			s.network.WakeUp()
			s.stats.handedOff.Add(int64(attached))
		}
	}
	return nil
}

func (s *ResponseStage) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.batch.Close()
}
