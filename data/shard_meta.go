package data

import (
	"encoding/binary"
	"strconv"
	"strings"
)

// ShardMeta 分片的元数据, 保存在 catalog 中
type ShardMeta struct {
	Queue      string // 队列名称
	ShardID    int32  // 分片 id
	BaseOffset int64  // 当前 segment 的 base offset
	CreatedAt  int64  // 创建时间, 毫秒
}

// ShardKey 分片在 catalog 中的 key, 形如 queue/shard
func ShardKey(queue string, shardID int32) []byte {
	return []byte(queue + "/" + strconv.FormatInt(int64(shardID), 10))
}

// ParseShardKey 解析 ShardKey 生成的 key
func ParseShardKey(key []byte) (string, int32, bool) {
	s := string(key)
	idx := strings.LastIndexByte(s, '/')
	if idx <= 0 || idx == len(s)-1 {
		return "", 0, false
	}
	shardID, err := strconv.ParseInt(s[idx+1:], 10, 32)
	if err != nil {
		return "", 0, false
	}
	return s[:idx], int32(shardID), true
}

// Key 返回分片元数据对应的 key
func (m *ShardMeta) Key() []byte {
	return ShardKey(m.Queue, m.ShardID)
}

// EncodeShardMeta 对分片元数据进行编码
func EncodeShardMeta(meta *ShardMeta) []byte {
	buf := make([]byte, binary.MaxVarintLen32+binary.MaxVarintLen64*3+len(meta.Queue))
	var index = 0
	index += binary.PutVarint(buf[index:], int64(meta.ShardID))
	index += binary.PutVarint(buf[index:], meta.BaseOffset)
	index += binary.PutVarint(buf[index:], meta.CreatedAt)
	index += binary.PutUvarint(buf[index:], uint64(len(meta.Queue)))
	index += copy(buf[index:], meta.Queue)
	return buf[:index]
}

// DecodeShardMeta 解码分片元数据, 数据不完整时返回 nil
func DecodeShardMeta(buf []byte) *ShardMeta {
	var index = 0
	shardID, n := binary.Varint(buf[index:])
	if n <= 0 {
		return nil
	}
	index += n
	baseOffset, n := binary.Varint(buf[index:])
	if n <= 0 {
		return nil
	}
	index += n
	createdAt, n := binary.Varint(buf[index:])
	if n <= 0 {
		return nil
	}
	index += n
	queueLen, n := binary.Uvarint(buf[index:])
	if n <= 0 || uint64(len(buf)-index-n) < queueLen {
		return nil
	}
	index += n
	return &ShardMeta{
		Queue:      string(buf[index : index+int(queueLen)]),
		ShardID:    int32(shardID),
		BaseOffset: baseOffset,
		CreatedAt:  createdAt,
	}
}
