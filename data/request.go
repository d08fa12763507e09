package data

// RequestHeader 请求头
type RequestHeader struct {
	CorrelationID int32  `msgpack:"correlation_id"`
	ClientID      string `msgpack:"client_id"`
}

// ProduceRequest 写入请求, 可以同时写多个队列的多个分片
type ProduceRequest struct {
	Header RequestHeader  `msgpack:"header"`
	Queues []QueueRecords `msgpack:"queues"`
}

// QueueRecords 一个队列下各个分片待写入的数据
type QueueRecords struct {
	Queue  string         `msgpack:"queue"`
	Shards []ShardRecords `msgpack:"shards"`
}

// ShardRecords 一个分片待写入的记录, 会作为一个批次写入
type ShardRecords struct {
	ShardID int32    `msgpack:"shard_id"`
	Records []Record `msgpack:"records"`
}

// FetchRequest 读取请求
type FetchRequest struct {
	Header   RequestHeader `msgpack:"header"`
	Queue    string        `msgpack:"queue"`
	ShardID  int32         `msgpack:"shard_id"`
	Offset   int64         `msgpack:"offset"`
	MaxBytes int32         `msgpack:"max_bytes"`
}

// ListOffsetsRequest 查询分片 offset 范围
type ListOffsetsRequest struct {
	Header  RequestHeader `msgpack:"header"`
	Queue   string        `msgpack:"queue"`
	ShardID int32         `msgpack:"shard_id"`
}

// MetadataRequest 查询队列元数据, Queues 为空表示全部
type MetadataRequest struct {
	Header RequestHeader `msgpack:"header"`
	Queues []string      `msgpack:"queues"`
}
