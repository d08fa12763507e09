package coda

import (
	"sync"
	"time"

	"coda/data"
	"coda/store"
)

// WriteBatch 暂存一个分片的记录, 提交时作为一个批次写入, 批次内的记录获得连续的 offset
type WriteBatch struct {
	options WriteBatchOptions
	mu      *sync.Mutex
	broker  *Broker
	queue   string
	shardID int32
	pending []data.Record // 暂存用户写入的数据
}

// NewWriteBatch 初始化 WriteBatch
func (b *Broker) NewWriteBatch(queue string, shardID int32, opts WriteBatchOptions) *WriteBatch {
	return &WriteBatch{
		options: opts,
		mu:      new(sync.Mutex),
		broker:  b,
		queue:   queue,
		shardID: shardID,
	}
}

// Put 暂存一条记录, 时间戳为当前时间
func (wb *WriteBatch) Put(key []byte, value []byte) error {
	return wb.PutRecord(data.Record{Key: key, Value: value, Timestamp: time.Now().UnixMilli()})
}

// PutRecord 暂存一条完整的记录
func (wb *WriteBatch) PutRecord(record data.Record) error {
	wb.mu.Lock()
	defer wb.mu.Unlock()

	if wb.options.MaxBatchNum > 0 && uint(len(wb.pending)) >= wb.options.MaxBatchNum {
		return ErrExceedMaxBatchNum
	}
	wb.pending = append(wb.pending, record)
	return nil
}

// Len 暂存的记录数量
func (wb *WriteBatch) Len() int {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	return len(wb.pending)
}

// Commit 提交数据, 把暂存的记录作为一个批次写入分区日志
// 没有暂存数据时返回 nil
func (wb *WriteBatch) Commit() (*store.AppendResult, error) {
	wb.mu.Lock()
	defer wb.mu.Unlock()

	if len(wb.pending) == 0 {
		return nil, nil
	}

	l, err := wb.broker.Log(wb.queue, wb.shardID)
	if err != nil {
		return nil, err
	}
	result, err := l.AppendNext(data.NewRecordBatch(wb.pending...))
	if err != nil {
		return nil, err
	}

	// 根据配置决定是否持久化
	if wb.options.SyncWrites {
		if err := l.Sync(); err != nil {
			return nil, err
		}
	}

	// 清空暂存数据
	wb.pending = nil
	return result, nil
}
