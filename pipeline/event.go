package pipeline

import (
	"coda/data"
	"coda/store"
)

// State 事件在流水线中的状态
// created -> decoded -> routed -> persisted -> response-built -> handed-off, 终止状态为 handed-off 或 dropped
type State int32

const (
	StateCreated State = iota
	StateDecoded
	StateRouted
	StatePersisted
	StateResponseBuilt
	StateHandedOff
	StateDropped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateDecoded:
		return "decoded"
	case StateRouted:
		return "routed"
	case StatePersisted:
		return "persisted"
	case StateResponseBuilt:
		return "response-built"
	case StateHandedOff:
		return "handed-off"
	case StateDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// RequestEvent 网络层收到的一个请求
type RequestEvent struct {
	ConnID     string
	APIKey     int16
	APIVersion int16
	Payload    []byte
	Record     interface{} // 解码后的请求结构
	State      State
}

// StoreEvent 待持久化的写入请求, 按 队列 -> 分片 组织
type StoreEvent struct {
	ConnID string
	Header data.RequestHeader
	Puts   []data.QueueRecords
	State  State
}

// ResponseEvent 待写回连接的响应, Buffer 为空表示请求被丢弃
type ResponseEvent struct {
	ConnID string
	Buffer []byte
	State  State
}

// Network 网络层的写通知接口
type Network interface {
	// AttachForWrite 把响应挂到连接上并标记为可写
	AttachForWrite(connID string, buf []byte) error

	// WakeUp 唤醒网络层的轮询, 让它立即处理可写的连接
	WakeUp()
}

// LogResolver 根据队列和分片找到对应的分区日志, 分片不存在时返回 ErrShardNotFound
type LogResolver interface {
	Log(queue string, shardID int32) (*store.PartitionLog, error)
}
