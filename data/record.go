package data

// Record 生产者写入的一条逻辑记录
type Record struct {
	Key       []byte            `msgpack:"key"`
	Value     []byte            `msgpack:"value"`
	Headers   map[string]string `msgpack:"headers,omitempty"`
	Timestamp int64             `msgpack:"timestamp"`
}

// RecordBatch 一批记录, 作为一个整体序列化写入 segment 文件并建立一条索引
type RecordBatch struct {
	Records []Record `msgpack:"records"`
}

// NewRecordBatch 使用给定的记录构造批次
func NewRecordBatch(records ...Record) *RecordBatch {
	return &RecordBatch{Records: records}
}

// Len 批次中逻辑记录的数量
func (rb *RecordBatch) Len() int {
	if rb == nil {
		return 0
	}
	return len(rb.Records)
}
