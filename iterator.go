package coda

import (
	"math"

	"coda/data"
	"coda/store"
)

// Iterator 按 offset 顺序遍历一个分片中的记录, 底层按批次从分区日志读取
type Iterator struct {
	log        *store.PartitionLog
	options    IteratorOptions
	records    []data.Record // 当前缓存的记录
	offsets    []int64       // records 中每条记录的 offset
	currIndex  int
	nextOffset int64 // 下一次从日志读取的 offset
	err        error
}

// NewIterator 初始化迭代器, 分片不存在时返回 ErrShardNotFound
func (b *Broker) NewIterator(queue string, shardID int32, opts IteratorOptions) (*Iterator, error) {
	l, err := b.log(queue, shardID, false)
	if err != nil {
		return nil, err
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = b.options.FetchMaxBytes
	}
	it := &Iterator{log: l, options: opts}
	it.Rewind()
	return it, nil
}

// Rewind 回到 StartOffset
func (it *Iterator) Rewind() {
	it.Seek(it.options.StartOffset)
}

// Seek 定位到 offset, offset 之前的记录会被跳过
func (it *Iterator) Seek(offset int64) {
	it.records, it.offsets = nil, nil
	it.currIndex = 0
	it.err = nil
	it.nextOffset = offset
	it.fill()
}

func (it *Iterator) Next() {
	it.currIndex++
	if it.currIndex >= len(it.records) {
		it.fill()
	}
}

func (it *Iterator) Valid() bool {
	return it.err == nil && it.currIndex < len(it.records)
}

// Offset 当前记录的 offset
func (it *Iterator) Offset() int64 {
	return it.offsets[it.currIndex]
}

// Record 当前记录
func (it *Iterator) Record() data.Record {
	return it.records[it.currIndex]
}

// Err 读取日志时遇到的错误
func (it *Iterator) Err() error {
	return it.err
}

func (it *Iterator) Close() {
	it.records, it.offsets = nil, nil
}

// 从日志读取下一组批次
func (it *Iterator) fill() {
	it.records, it.offsets = it.records[:0], it.offsets[:0]
	it.currIndex = 0

	for len(it.records) == 0 {
		res, err := it.log.Fetch(it.nextOffset, it.options.MaxBytes)
		if err != nil {
			it.err = err
			return
		}
		if res == nil || res.HighWatermark < it.nextOffset {
			return
		}
		// 单个批次超过 MaxBytes 时放宽限制, 否则迭代器会停在这个批次上
		if len(res.Batches) == 0 {
			if res, err = it.log.Fetch(it.nextOffset, math.MaxInt32); err != nil {
				it.err = err
				return
			}
			if len(res.Batches) == 0 {
				return
			}
			res.Batches = res.Batches[:1]
		}

		for _, batch := range res.Batches {
			for i, record := range batch.Batch.Records {
				offset := batch.FirstOffset + int64(i)
				if offset < it.nextOffset {
					continue
				}
				it.records = append(it.records, record)
				it.offsets = append(it.offsets, offset)
			}
			it.nextOffset = batch.FirstOffset + int64(batch.RecordCount)
		}
	}
}
