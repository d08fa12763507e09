package data

// ResponseHeader 响应头
type ResponseHeader struct {
	CorrelationID int32 `msgpack:"correlation_id"`
}

// PutResponse 写入响应, 按 队列 -> 分片 分层组织
type PutResponse struct {
	Header  ResponseHeader   `msgpack:"header"`
	Results []QueuePutResult `msgpack:"results"`
}

// QueuePutResult 单个队列的写入结果
type QueuePutResult struct {
	Queue        string           `msgpack:"queue"`
	ShardResults []ShardPutResult `msgpack:"shard_results"`
}

// ShardPutResult 单个分片的写入结果
type ShardPutResult struct {
	ShardID   int32 `msgpack:"shard_id"`
	ErrorCode int16 `msgpack:"error_code"`
	Offset    int64 `msgpack:"offset"`    // 批次中第一条记录的 offset
	Timestamp int64 `msgpack:"timestamp"` // 写入时间, 毫秒
}

// ErrorResponse 无法路由或无法解码的请求对应的响应
type ErrorResponse struct {
	Header    ResponseHeader `msgpack:"header"`
	APIKey    int16          `msgpack:"api_key"`
	ErrorCode int16          `msgpack:"error_code"`
	Message   string         `msgpack:"message"`
}
