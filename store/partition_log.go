package store

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"coda/codec"
	"coda/data"
	"coda/fio"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const LogFileNameSuffix = ".log"

// LogOptions PartitionLog 的配置项
type LogOptions struct {
	// 是否每次写入都持久化
	SyncWrites bool

	// 累计写到多少字节后持久化
	BytesPerSync uint

	Logger *zap.Logger
}

// AppendResult 一次追加写入的结果
type AppendResult struct {
	FirstOffset int64
	LastOffset  int64
	Position    int64
	Size        int64
	RecordCount uint32
	Timestamp   int64 // 毫秒
}

// FetchedBatch 读取到的一个批次
type FetchedBatch struct {
	FirstOffset int64
	RecordCount uint32
	Batch       *data.RecordBatch
}

// FetchResult 读取结果
type FetchResult struct {
	ErrorCode     int16
	HighWatermark int64 // 最后一个已提交的 offset, 日志为空时为 -1
	Batches       []FetchedBatch
}

// PartitionLog 分片的 segment 日志, 只追加写
// 锁的顺序: 先持有 PartitionLog.mu, 再进入 OffsetIndex 内部的锁
type PartitionLog struct {
	mu         sync.Mutex
	path       string
	baseOffset int64
	ioManager  fio.IOManager
	index      *OffsetIndex
	codec      codec.Codec
	size       atomic.Int64 // 当前写入位置, 数据写完之后才会推进
	committed  atomic.Int64 // 数据已经写完的批次之后的下一个 offset, 在 size 之后推进
	bytesWrite uint
	options    LogOptions
	logger     *zap.Logger
}

// SegmentFileName segment 文件名称, 以 base offset 命名
func SegmentFileName(dirPath string, baseOffset int64) string {
	return filepath.Join(dirPath, fmt.Sprintf("%020d", baseOffset)+LogFileNameSuffix)
}

// IndexFileName 索引文件名称
func IndexFileName(dirPath string, baseOffset int64) string {
	return filepath.Join(dirPath, fmt.Sprintf("%020d", baseOffset)+IndexFileNameSuffix)
}

// OpenPartitionLog 打开 segment 文件, 不存在则创建父目录和文件
func OpenPartitionLog(path string, baseOffset int64, index *OffsetIndex, c codec.Codec, options LogOptions) (*PartitionLog, error) {
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return nil, errors.Wrapf(err, "create log dir for %s", path)
	}
	ioManager, err := fio.NewIOManager(path, fio.StandardFIO)
	if err != nil {
		return nil, err
	}
	size, err := ioManager.Size()
	if err != nil {
		_ = ioManager.Close()
		return nil, errors.Wrapf(err, "stat log %s", path)
	}

	l := &PartitionLog{
		path:       path,
		baseOffset: baseOffset,
		ioManager:  ioManager,
		index:      index,
		codec:      c,
		options:    options,
		logger:     logger.With(zap.String("log", path)),
	}
	l.size.Store(size)

	if err := l.recover(); err != nil {
		_ = ioManager.Close()
		return nil, err
	}
	l.committed.Store(index.NextOffset())
	l.logger.Info("partition log opened",
		zap.Int64("size", l.size.Load()), zap.Int64("next_offset", index.NextOffset()))
	return l, nil
}

// Append 追加一个批次, firstOffset 为批次中第一条记录的 offset
// 先写索引再写数据, 数据写完之后才推进 size, 读取方不会看到未写完的批次
func (l *PartitionLog) Append(firstOffset int64, batch *data.RecordBatch, recordCount uint32) (*AppendResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendBatch(firstOffset, batch, recordCount)
}

// AppendNext 追加一个批次, offset 在锁内从 NextOffset 分配, 并发写入得到的 offset 连续递增
func (l *PartitionLog) AppendNext(batch *data.RecordBatch) (*AppendResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendBatch(l.index.NextOffset(), batch, uint32(batch.Len()))
}

// Fetch 从 startOffset 开始读取完整的批次, 总字节数不超过 maxBytes
// 日志为空时返回 nil
func (l *PartitionLog) Fetch(startOffset int64, maxBytes int32) (*FetchResult, error) {
	// 先读 committed 再读 size, 水位不会超过已经可见的数据
	committed := l.committed.Load()
	size := l.size.Load()
	if size == 0 {
		return nil, nil
	}

	result := &FetchResult{
		ErrorCode:     data.ErrCodeNone,
		HighWatermark: committed - 1,
	}

	// 每次读取使用独立的内存映射视图, 不和其他读取共享游标
	var view fio.IOManager
	defer func() {
		if view != nil {
			_ = view.Close()
		}
	}()

	var lengthSum int64
	cursor := startOffset
	for {
		pos, err := l.index.Lookup(cursor)
		if err != nil {
			return nil, err
		}
		if pos == nil || pos.RecordCount == 0 {
			break
		}
		// 批次还没有写完
		if int64(pos.Position)+int64(pos.BatchByteSize) > size {
			break
		}
		lengthSum += int64(pos.BatchByteSize)
		if int64(maxBytes) < lengthSum {
			break
		}

		if view == nil {
			if view, err = fio.NewIOManager(l.path, fio.MemoryMap); err != nil {
				return nil, err
			}
		}
		buf := make([]byte, pos.BatchByteSize)
		if _, err := view.Read(buf, int64(pos.Position)); err != nil {
			return nil, errors.Wrapf(err, "read batch %d from %s", pos.Offset, l.path)
		}
		batch, err := l.decodeBatch(buf)
		if err != nil {
			return nil, errors.Wrapf(err, "decode batch %d from %s", pos.Offset, l.path)
		}
		result.Batches = append(result.Batches, FetchedBatch{
			FirstOffset: pos.Offset,
			RecordCount: pos.RecordCount,
			Batch:       batch,
		})
		cursor = pos.Offset + int64(pos.RecordCount)
	}
	return result, nil
}

func (l *PartitionLog) Path() string {
	return l.path
}

func (l *PartitionLog) BaseOffset() int64 {
	return l.baseOffset
}

func (l *PartitionLog) Size() int64 {
	return l.size.Load()
}

func (l *PartitionLog) Index() *OffsetIndex {
	return l.index
}

// NextOffset 下一个写入批次将会获得的 offset
func (l *PartitionLog) NextOffset() int64 {
	return l.index.NextOffset()
}

// Sync 持久化数据文件和索引文件
func (l *PartitionLog) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sync()
}

// Close 关闭数据文件和索引文件
func (l *PartitionLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ioManager.Close(); err != nil {
		return err
	}
	return l.index.Close()
}

func (l *PartitionLog) String() string {
	return "log file: " + l.path + ", index file: " + l.index.Path()
}

// 调用前必须持有 l.mu
func (l *PartitionLog) appendBatch(firstOffset int64, batch *data.RecordBatch, recordCount uint32) (*AppendResult, error) {
	if recordCount == 0 || batch.Len() == 0 {
		return nil, ErrEmptyBatch
	}
	encBatch, err := l.codec.Serialize(batch)
	if err != nil {
		return nil, errors.Wrap(err, "serialize record batch")
	}

	position := l.size.Load()
	if position+int64(len(encBatch)) > math.MaxUint32 {
		return nil, errors.Wrapf(ErrSegmentFull, "log %s at position %d", l.path, position)
	}

	// 先记录索引
	if err := l.index.Add(firstOffset, uint32(position), uint32(len(encBatch)), recordCount); err != nil {
		return nil, err
	}

	if _, err := l.ioManager.WriteAt(encBatch, position); err != nil {
		l.rollback(firstOffset, position)
		return nil, errors.Wrapf(err, "write batch %d to %s", firstOffset, l.path)
	}

	l.bytesWrite += uint(len(encBatch))
	var needSync = l.options.SyncWrites
	if !needSync && l.options.BytesPerSync > 0 && l.bytesWrite >= l.options.BytesPerSync {
		needSync = true
	}
	if needSync {
		if err := l.sync(); err != nil {
			l.rollback(firstOffset, position)
			return nil, err
		}
		l.bytesWrite = 0
	}

	l.size.Store(position + int64(len(encBatch)))
	l.committed.Store(l.index.NextOffset())

	return &AppendResult{
		FirstOffset: firstOffset,
		LastOffset:  firstOffset + int64(recordCount) - 1,
		Position:    position,
		Size:        int64(len(encBatch)),
		RecordCount: recordCount,
		Timestamp:   time.Now().UnixMilli(),
	}, nil
}

// 写入失败, 把数据文件截断回原来的位置并删除对应的索引项
func (l *PartitionLog) rollback(firstOffset, position int64) {
	if err := l.ioManager.Truncate(position); err != nil {
		l.logger.Error("failed to truncate log after write failure",
			zap.Int64("position", position), zap.Error(err))
	}
	if err := l.index.Remove(firstOffset); err != nil {
		l.logger.Error("failed to roll back index entry",
			zap.Int64("offset", firstOffset), zap.Error(err))
	}
}

func (l *PartitionLog) sync() error {
	if err := l.ioManager.Sync(); err != nil {
		return errors.Wrapf(err, "sync log %s", l.path)
	}
	if err := l.index.Sync(); err != nil {
		return errors.Wrapf(err, "sync index %s", l.index.Path())
	}
	return nil
}

func (l *PartitionLog) decodeBatch(buf []byte) (*data.RecordBatch, error) {
	v, err := l.codec.Deserialize(data.SchemaRecordBatch, buf)
	if err != nil {
		return nil, err
	}
	batch, ok := v.(*data.RecordBatch)
	if !ok {
		return nil, errors.Wrapf(ErrUnexpectedType, "%T", v)
	}
	return batch, nil
}

// 打开时校验数据文件和索引文件是否一致
// 索引末尾指向数据文件之外的索引项是写入中断留下的, 删除; 数据文件末尾多出来的字节截断
func (l *PartitionLog) recover() error {
	size := l.size.Load()
	for {
		last, err := l.index.LastEntry()
		if err != nil {
			return err
		}
		if last == nil || int64(last.Position)+int64(last.BatchByteSize) <= size {
			break
		}
		l.logger.Warn("dropping index entry beyond log end", zap.Int64("offset", last.Offset))
		if err := l.index.Remove(last.Offset); err != nil {
			return err
		}
	}

	entries, err := l.index.Entries()
	if err != nil {
		return err
	}
	var end int64
	for _, e := range entries {
		if e2 := int64(e.Position) + int64(e.BatchByteSize); e2 > end {
			end = e2
		}
	}
	if size > end {
		l.logger.Warn("truncating unindexed log tail", zap.Int64("size", size), zap.Int64("end", end))
		if err := l.ioManager.Truncate(end); err != nil {
			return errors.Wrapf(err, "truncate log %s", l.path)
		}
		l.size.Store(end)
	}
	return nil
}
