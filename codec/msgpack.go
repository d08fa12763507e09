package codec

import (
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack"
)

// MsgpackCodec 基于 msgpack 的 Codec 实现
type MsgpackCodec struct {
	registry *Registry
}

// NewMsgpackCodec 新建 msgpack 编解码器, registry 为空时使用默认注册表
func NewMsgpackCodec(registry *Registry) *MsgpackCodec {
	if registry == nil {
		registry = NewDefaultRegistry()
	}
	return &MsgpackCodec{registry: registry}
}

func (c *MsgpackCodec) Serialize(v interface{}) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "msgpack encode")
	}
	return b, nil
}

func (c *MsgpackCodec) Deserialize(schemaName string, b []byte) (interface{}, error) {
	v, ok := c.registry.New(schemaName)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownSchema, "schema %q", schemaName)
	}
	if err := msgpack.Unmarshal(b, v); err != nil {
		return nil, errors.Wrapf(err, "msgpack decode %s", schemaName)
	}
	return v, nil
}
