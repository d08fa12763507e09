package data

// API key, 标识请求的类型
const (
	APIKeyProduce     int16 = 0
	APIKeyFetch       int16 = 1
	APIKeyListOffsets int16 = 2
	APIKeyMetadata    int16 = 3
)

// schema 名称, 由 codec 用来找到对应的结构
const (
	SchemaProduceRequest     = "produce_request"
	SchemaFetchRequest       = "fetch_request"
	SchemaListOffsetsRequest = "list_offsets_request"
	SchemaMetadataRequest    = "metadata_request"
	SchemaRecordBatch        = "record_batch"
	SchemaPutResponse        = "put_response"
	SchemaErrorResponse      = "error_response"
)

// 响应中的错误码
const (
	ErrCodeNone                 int16 = 0
	ErrCodeUnknown              int16 = 1
	ErrCodeStorage              int16 = 2
	ErrCodeShardNotFound        int16 = 3
	ErrCodeUnsupportedOperation int16 = 4
	ErrCodeCorruptMessage       int16 = 5
	ErrCodeSegmentFull          int16 = 6
)

// APIName 返回 API key 对应的名称, 未知的 key 返回 "unknown"
func APIName(apiKey int16) string {
	switch apiKey {
	case APIKeyProduce:
		return "produce"
	case APIKeyFetch:
		return "fetch"
	case APIKeyListOffsets:
		return "list_offsets"
	case APIKeyMetadata:
		return "metadata"
	default:
		return "unknown"
	}
}
