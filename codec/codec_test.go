package codec

import (
	"errors"
	"testing"

	"coda/data"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMsgpackCodec_RecordBatch(t *testing.T) {
	c := NewMsgpackCodec(nil)

	batch := data.NewRecordBatch(
		data.Record{Key: []byte("k1"), Value: []byte("v1"), Timestamp: 1},
		data.Record{Key: []byte("k2"), Value: []byte("v2"), Timestamp: 2, Headers: map[string]string{"h": "x"}},
	)
	b, err := c.Serialize(batch)
	require.Nil(t, err)
	assert.NotEmpty(t, b)

	v, err := c.Deserialize(data.SchemaRecordBatch, b)
	require.Nil(t, err)
	decoded, ok := v.(*data.RecordBatch)
	require.True(t, ok)
	assert.Equal(t, 2, decoded.Len())
	assert.Equal(t, []byte("v2"), decoded.Records[1].Value)
	assert.Equal(t, "x", decoded.Records[1].Headers["h"])
	assert.Equal(t, int64(2), decoded.Records[1].Timestamp)
}

func TestMsgpackCodec_ProduceRequest(t *testing.T) {
	c := NewMsgpackCodec(NewDefaultRegistry())

	req := &data.ProduceRequest{
		Header: data.RequestHeader{CorrelationID: 42, ClientID: "client-a"},
		Queues: []data.QueueRecords{{
			Queue:  "orders",
			Shards: []data.ShardRecords{{ShardID: 1, Records: []data.Record{{Value: []byte("a")}}}},
		}},
	}
	b, err := c.Serialize(req)
	require.Nil(t, err)

	v, err := c.Deserialize(data.SchemaProduceRequest, b)
	require.Nil(t, err)
	decoded := v.(*data.ProduceRequest)
	assert.Equal(t, int32(42), decoded.Header.CorrelationID)
	assert.Equal(t, "orders", decoded.Queues[0].Queue)
	assert.Equal(t, int32(1), decoded.Queues[0].Shards[0].ShardID)
}

func TestMsgpackCodec_Errors(t *testing.T) {
	c := NewMsgpackCodec(nil)

	_, err := c.Deserialize("not-registered", []byte{0x80})
	assert.True(t, errors.Is(err, ErrUnknownSchema))

	// 0xc1 在 msgpack 中是保留的编码
	_, err = c.Deserialize(data.SchemaProduceRequest, []byte{0xc1})
	assert.NotNil(t, err)
}

func TestAPISchemas_SchemaName(t *testing.T) {
	schemas := DefaultAPISchemas()

	name, err := schemas.SchemaName(data.APIKeyProduce)
	assert.Nil(t, err)
	assert.Equal(t, data.SchemaProduceRequest, name)

	_, err = schemas.SchemaName(77)
	assert.Equal(t, ErrUnknownAPIKey, err)
}
