package codec

import (
	"errors"
	"sync"

	"coda/data"
)

var (
	ErrUnknownSchema = errors.New("unknown schema name")
	ErrUnknownAPIKey = errors.New("no schema registered for api key")
)

// Codec 序列化抽象, 存储和流水线只把它当作不透明的编解码器使用
type Codec interface {
	// Serialize 将结构编码为字节数组
	Serialize(v interface{}) ([]byte, error)

	// Deserialize 根据 schema 名称把字节数组解码为对应的结构, 返回结构体指针
	Deserialize(schemaName string, b []byte) (interface{}, error)
}

// Registry schema 名称到结构构造函数的映射
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func() interface{}
}

// NewRegistry 新建一个空的 schema 注册表
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]func() interface{})}
}

// NewDefaultRegistry 注册了 data 包中所有请求/响应结构的 schema 注册表
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(data.SchemaProduceRequest, func() interface{} { return new(data.ProduceRequest) })
	r.Register(data.SchemaFetchRequest, func() interface{} { return new(data.FetchRequest) })
	r.Register(data.SchemaListOffsetsRequest, func() interface{} { return new(data.ListOffsetsRequest) })
	r.Register(data.SchemaMetadataRequest, func() interface{} { return new(data.MetadataRequest) })
	r.Register(data.SchemaRecordBatch, func() interface{} { return new(data.RecordBatch) })
	r.Register(data.SchemaPutResponse, func() interface{} { return new(data.PutResponse) })
	r.Register(data.SchemaErrorResponse, func() interface{} { return new(data.ErrorResponse) })
	return r
}

// Register 注册 schema, 同名的会被覆盖
func (r *Registry) Register(name string, factory func() interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// New 根据 schema 名称构造一个新的空结构
func (r *Registry) New(name string) (interface{}, bool) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return factory(), true
}

// APISchemas API key 到 schema 名称的映射
type APISchemas map[int16]string

// DefaultAPISchemas 默认的 API key -> schema 映射
func DefaultAPISchemas() APISchemas {
	return APISchemas{
		data.APIKeyProduce:     data.SchemaProduceRequest,
		data.APIKeyFetch:       data.SchemaFetchRequest,
		data.APIKeyListOffsets: data.SchemaListOffsetsRequest,
		data.APIKeyMetadata:    data.SchemaMetadataRequest,
	}
}

// SchemaName 获取 API key 对应的 schema 名称
func (s APISchemas) SchemaName(apiKey int16) (string, error) {
	name, ok := s[apiKey]
	if !ok {
		return "", ErrUnknownAPIKey
	}
	return name, nil
}
