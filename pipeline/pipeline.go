package pipeline

import (
	"context"
	"sync"

	"coda/codec"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config 流水线配置
type Config struct {
	// 各阶段队列的容量, 队列满时生产者阻塞
	RequestQueueSize  int `yaml:"request_queue_size"`
	StoreQueueSize    int `yaml:"store_queue_size"`
	ResponseQueueSize int `yaml:"response_queue_size"`

	// 是否经过响应阶段批量写回, 否则存储阶段直接写回网络层
	BatchResponses bool `yaml:"batch_responses"`

	Codec    codec.Codec      `yaml:"-"`
	Schemas  codec.APISchemas `yaml:"-"`
	Resolver LogResolver      `yaml:"-"`
	Network  Network          `yaml:"-"`
	Logger   *zap.Logger      `yaml:"-"`
}

var DefaultConfig = Config{
	RequestQueueSize:  1024,
	StoreQueueSize:    1024,
	ResponseQueueSize: 1024,
	BatchResponses:    false,
}

// Pipeline 请求 -> 存储 -> 响应 三个阶段组成的流水线, 每个阶段一个消费者 goroutine
type Pipeline struct {
	requests *Ring[RequestEvent]
	stores   *Ring[StoreEvent]
	request  *RequestStage
	store    *StoreStage
	response *ResponseStage // 未开启批量响应时为 nil
	group    *errgroup.Group
	logger   *zap.Logger
	stats    *counters
	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
}

// New 根据配置构造流水线, 需要调用 Start 之后才会开始消费
func New(cfg Config) (*Pipeline, error) {
	if cfg.Network == nil {
		return nil, ErrNetworkRequired
	}
	if cfg.Resolver == nil {
		return nil, ErrResolverRequired
	}
	if cfg.Codec == nil {
		cfg.Codec = codec.NewMsgpackCodec(nil)
	}
	if cfg.Schemas == nil {
		cfg.Schemas = codec.DefaultAPISchemas()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("pipeline")

	p := &Pipeline{
		requests: NewRing[RequestEvent](cfg.RequestQueueSize),
		stores:   NewRing[StoreEvent](cfg.StoreQueueSize),
		logger:   logger,
		stats:    new(counters),
	}

	var responder Responder = &directResponder{network: cfg.Network, stats: p.stats}
	if cfg.BatchResponses {
		p.response = newResponseStage(cfg.ResponseQueueSize, cfg.Network, logger, p.stats)
		responder = p.response
	}

	p.request = &RequestStage{
		in:        p.requests,
		store:     p.stores,
		codec:     cfg.Codec,
		schemas:   cfg.Schemas,
		responder: responder,
		logger:    logger.Named("request"),
		stats:     p.stats,
		done:      make(chan struct{}),
	}
	p.store = &StoreStage{
		in:        p.stores,
		resolver:  cfg.Resolver,
		codec:     cfg.Codec,
		responder: responder,
		logger:    logger.Named("store"),
		stats:     p.stats,
		done:      make(chan struct{}),
	}
	return p, nil
}

// Start 启动各阶段的消费者
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrPipelineStarted
	}
	p.started = true

	p.group = new(errgroup.Group)
	if p.response != nil {
		p.group.Go(p.response.run)
	}
	p.group.Go(p.store.run)
	p.group.Go(p.request.run)
	p.logger.Info("pipeline started", zap.Bool("batch_responses", p.response != nil))
	return nil
}

// Publish 网络层发布一个请求事件, 请求队列满时阻塞
func (p *Pipeline) Publish(ctx context.Context, ev RequestEvent) error {
	ev.State = StateCreated
	return p.requests.Publish(ctx, ev)
}

// Stop 按 请求 -> 存储 -> 响应 的顺序关闭队列, 每个阶段处理完已接受的事件后再关闭下一个
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return ErrPipelineNotStarted
	}

	var err error
	p.stopOnce.Do(func() {
		p.requests.Close()
		<-p.request.done
		p.stores.Close()
		<-p.store.done
		if p.response != nil {
			p.response.close()
			<-p.response.done
		}
		err = p.group.Wait()
		p.logger.Info("pipeline stopped", zap.Any("stats", p.stats.snapshot()))
	})
	return err
}

// Run 启动流水线并阻塞到 ctx 结束, 然后有序关闭
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return p.Stop()
}

// Stats 返回当前的计数快照
func (p *Pipeline) Stats() Stats {
	return p.stats.snapshot()
}
