package pipeline

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"coda/codec"
	"coda/data"
	"coda/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeNetwork struct {
	mu       sync.Mutex
	attached map[string][][]byte
	wakeups  int
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{attached: make(map[string][][]byte)}
}

func (n *fakeNetwork) AttachForWrite(connID string, buf []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.attached[connID] = append(n.attached[connID], buf)
	return nil
}

func (n *fakeNetwork) WakeUp() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.wakeups++
}

func (n *fakeNetwork) responses(connID string) [][]byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.attached[connID]
}

type testResolver struct {
	mu   sync.Mutex
	dir  string
	logs map[string]*store.PartitionLog
}

func newTestResolver(t *testing.T) *testResolver {
	dir, _ := os.MkdirTemp("", "coda-pipeline")
	r := &testResolver{dir: dir, logs: make(map[string]*store.PartitionLog)}
	t.Cleanup(func() {
		for _, l := range r.logs {
			_ = l.Close()
		}
		_ = os.RemoveAll(dir)
	})
	return r
}

func (r *testResolver) Log(queue string, shardID int32) (*store.PartitionLog, error) {
	if queue == "missing" {
		return nil, ErrShardNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := string(data.ShardKey(queue, shardID))
	if l, ok := r.logs[key]; ok {
		return l, nil
	}
	shardDir := fmt.Sprintf("%s/%s-%d", r.dir, queue, shardID)
	idx, err := store.OpenOffsetIndex(store.IndexFileName(shardDir, 0), 0, nil)
	if err != nil {
		return nil, err
	}
	l, err := store.OpenPartitionLog(store.SegmentFileName(shardDir, 0), 0, idx, codec.NewMsgpackCodec(nil), store.LogOptions{})
	if err != nil {
		return nil, err
	}
	r.logs[key] = l
	return l, nil
}

func newTestPipeline(t *testing.T, batch bool) (*Pipeline, *fakeNetwork, *testResolver) {
	network := newFakeNetwork()
	resolver := newTestResolver(t)
	cfg := DefaultConfig
	cfg.BatchResponses = batch
	cfg.Network = network
	cfg.Resolver = resolver
	p, err := New(cfg)
	require.Nil(t, err)
	require.Nil(t, p.Start())
	return p, network, resolver
}

func produceRequest(t *testing.T, correlationID int32, queue string, shardID int32, n int) []byte {
	records := make([]data.Record, n)
	for i := range records {
		records[i] = data.Record{
			Key:       []byte(fmt.Sprintf("key-%d", i)),
			Value:     []byte(fmt.Sprintf("value-%d", i)),
			Timestamp: int64(i),
		}
	}
	req := &data.ProduceRequest{
		Header: data.RequestHeader{CorrelationID: correlationID, ClientID: "test"},
		Queues: []data.QueueRecords{{
			Queue:  queue,
			Shards: []data.ShardRecords{{ShardID: shardID, Records: records}},
		}},
	}
	buf, err := codec.NewMsgpackCodec(nil).Serialize(req)
	require.Nil(t, err)
	return buf
}

func decodePut(t *testing.T, buf []byte) *data.PutResponse {
	v, err := codec.NewMsgpackCodec(nil).Deserialize(data.SchemaPutResponse, buf)
	require.Nil(t, err)
	return v.(*data.PutResponse)
}

func decodeError(t *testing.T, buf []byte) *data.ErrorResponse {
	v, err := codec.NewMsgpackCodec(nil).Deserialize(data.SchemaErrorResponse, buf)
	require.Nil(t, err)
	return v.(*data.ErrorResponse)
}

func TestPipeline_Produce(t *testing.T) {
	for _, batch := range []bool{false, true} {
		t.Run(fmt.Sprintf("batch=%v", batch), func(t *testing.T) {
			p, network, resolver := newTestPipeline(t, batch)

			err := p.Publish(context.Background(), RequestEvent{
				ConnID:  "c1",
				APIKey:  data.APIKeyProduce,
				Payload: produceRequest(t, 7, "orders", 0, 3),
			})
			assert.Nil(t, err)
			assert.Nil(t, p.Stop())

			responses := network.responses("c1")
			require.Equal(t, 1, len(responses))
			resp := decodePut(t, responses[0])
			assert.Equal(t, int32(7), resp.Header.CorrelationID)
			require.Equal(t, 1, len(resp.Results))
			assert.Equal(t, "orders", resp.Results[0].Queue)
			require.Equal(t, 1, len(resp.Results[0].ShardResults))
			shard := resp.Results[0].ShardResults[0]
			assert.Equal(t, data.ErrCodeNone, shard.ErrorCode)
			assert.Equal(t, int64(0), shard.Offset)
			assert.True(t, shard.Timestamp > 0)
			assert.True(t, network.wakeups >= 1)

			l, err := resolver.Log("orders", 0)
			require.Nil(t, err)
			last, err := l.Index().LastEntry()
			require.Nil(t, err)
			assert.Equal(t, uint32(3), last.RecordCount)
			assert.Equal(t, shard.Offset, last.Offset)

			stats := p.Stats()
			assert.Equal(t, int64(1), stats.Received)
			assert.Equal(t, int64(1), stats.Routed)
			assert.Equal(t, int64(1), stats.Persisted)
			assert.Equal(t, int64(1), stats.HandedOff)
		})
	}
}

func TestPipeline_ProduceOffsetsIncrease(t *testing.T) {
	p, network, _ := newTestPipeline(t, true)
	for i := 0; i < 20; i++ {
		err := p.Publish(context.Background(), RequestEvent{
			ConnID:  "c1",
			APIKey:  data.APIKeyProduce,
			Payload: produceRequest(t, int32(i), "orders", 1, 2),
		})
		assert.Nil(t, err)
	}
	assert.Nil(t, p.Stop())

	responses := network.responses("c1")
	require.Equal(t, 20, len(responses))
	for i, buf := range responses {
		resp := decodePut(t, buf)
		assert.Equal(t, int32(i), resp.Header.CorrelationID)
		assert.Equal(t, int64(i*2), resp.Results[0].ShardResults[0].Offset)
	}
}

func TestPipeline_ShardNotFound(t *testing.T) {
	p, network, _ := newTestPipeline(t, false)
	err := p.Publish(context.Background(), RequestEvent{
		ConnID:  "c2",
		APIKey:  data.APIKeyProduce,
		Payload: produceRequest(t, 1, "missing", 0, 1),
	})
	assert.Nil(t, err)
	assert.Nil(t, p.Stop())

	responses := network.responses("c2")
	require.Equal(t, 1, len(responses))
	shard := decodePut(t, responses[0]).Results[0].ShardResults[0]
	assert.Equal(t, data.ErrCodeShardNotFound, shard.ErrorCode)
	assert.Equal(t, int64(-1), shard.Offset)
	assert.Equal(t, int64(1), p.Stats().StoreErrors)
}

func TestPipeline_Unsupported(t *testing.T) {
	p, network, _ := newTestPipeline(t, false)

	fetch, err := codec.NewMsgpackCodec(nil).Serialize(&data.FetchRequest{
		Header: data.RequestHeader{CorrelationID: 42},
		Queue:  "orders",
	})
	require.Nil(t, err)
	assert.Nil(t, p.Publish(context.Background(), RequestEvent{ConnID: "c3", APIKey: data.APIKeyFetch, Payload: fetch}))
	assert.Nil(t, p.Publish(context.Background(), RequestEvent{ConnID: "c4", APIKey: 99, Payload: []byte{0x01}}))
	assert.Nil(t, p.Stop())

	responses := network.responses("c3")
	require.Equal(t, 1, len(responses))
	resp := decodeError(t, responses[0])
	assert.Equal(t, int32(42), resp.Header.CorrelationID)
	assert.Equal(t, data.APIKeyFetch, resp.APIKey)
	assert.Equal(t, data.ErrCodeUnsupportedOperation, resp.ErrorCode)

	responses = network.responses("c4")
	require.Equal(t, 1, len(responses))
	resp = decodeError(t, responses[0])
	assert.Equal(t, int16(99), resp.APIKey)
	assert.Equal(t, data.ErrCodeUnsupportedOperation, resp.ErrorCode)
	assert.Equal(t, int64(2), p.Stats().Unsupported)
}

func TestPipeline_DecodeFailure(t *testing.T) {
	p, network, _ := newTestPipeline(t, false)

	assert.Nil(t, p.Publish(context.Background(), RequestEvent{ConnID: "c5", APIKey: data.APIKeyProduce, Payload: []byte{0xc1}}))
	// 解码失败之后流水线继续工作
	assert.Nil(t, p.Publish(context.Background(), RequestEvent{
		ConnID:  "c5",
		APIKey:  data.APIKeyProduce,
		Payload: produceRequest(t, 2, "orders", 0, 1),
	}))
	assert.Nil(t, p.Stop())

	responses := network.responses("c5")
	require.Equal(t, 2, len(responses))
	assert.Equal(t, data.ErrCodeCorruptMessage, decodeError(t, responses[0]).ErrorCode)
	assert.Equal(t, data.ErrCodeNone, decodePut(t, responses[1]).Results[0].ShardResults[0].ErrorCode)
	assert.Equal(t, int64(1), p.Stats().DecodeErrors)
}

func TestPipeline_Lifecycle(t *testing.T) {
	_, err := New(Config{Resolver: newTestResolver(t)})
	assert.Equal(t, ErrNetworkRequired, err)
	_, err = New(Config{Network: newFakeNetwork()})
	assert.Equal(t, ErrResolverRequired, err)

	p, _, _ := newTestPipeline(t, false)
	assert.Equal(t, ErrPipelineStarted, p.Start())
	assert.Nil(t, p.Stop())
	assert.Nil(t, p.Stop())

	err = p.Publish(context.Background(), RequestEvent{ConnID: "c6", APIKey: data.APIKeyProduce})
	assert.Equal(t, ErrQueueClosed, err)
}

func TestPipeline_Run(t *testing.T) {
	network := newFakeNetwork()
	cfg := DefaultConfig
	cfg.Network = network
	cfg.Resolver = newTestResolver(t)
	p, err := New(cfg)
	require.Nil(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- p.Run(ctx)
	}()

	// Run 内部启动之后才能发布
	assert.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.started
	}, time.Second, time.Millisecond)
	assert.Nil(t, p.Publish(context.Background(), RequestEvent{
		ConnID:  "c7",
		APIKey:  data.APIKeyProduce,
		Payload: produceRequest(t, 1, "orders", 0, 1),
	}))
	cancel()
	assert.Nil(t, <-done)
	assert.Equal(t, 1, len(network.responses("c7")))
}

func TestRing_BackPressure(t *testing.T) {
	r := NewRing[int](1)
	assert.Equal(t, 1, r.Cap())
	assert.Nil(t, r.Publish(context.Background(), 1))
	assert.Equal(t, 1, r.Len())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Equal(t, context.DeadlineExceeded, r.Publish(ctx, 2))

	// 阻塞中的生产者在队列关闭时返回
	blocked := make(chan error)
	go func() {
		blocked <- r.Publish(context.Background(), 3)
	}()
	time.Sleep(10 * time.Millisecond)
	r.Close()
	assert.Equal(t, ErrQueueClosed, <-blocked)

	var drained []int
	for v := range r.C() {
		drained = append(drained, v)
	}
	assert.Equal(t, []int{1}, drained)
	assert.Equal(t, ErrQueueClosed, r.Publish(context.Background(), 4))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "created", StateCreated.String())
	assert.Equal(t, "response-built", StateResponseBuilt.String())
	assert.Equal(t, "handed-off", StateHandedOff.String())
	assert.Equal(t, "dropped", StateDropped.String())
	assert.Equal(t, "unknown", State(100).String())
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, data.ErrCodeNone, ErrorCode(nil))
	assert.Equal(t, data.ErrCodeShardNotFound, ErrorCode(ErrShardNotFound))
	assert.Equal(t, data.ErrCodeSegmentFull, ErrorCode(store.ErrSegmentFull))
	assert.Equal(t, data.ErrCodeCorruptMessage, ErrorCode(store.ErrEmptyBatch))
	assert.Equal(t, data.ErrCodeStorage, ErrorCode(os.ErrClosed))
}
