package store

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"coda/fio"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	IndexFileNameSuffix = ".index"

	// 索引项: deltaOffset(4) + position(4) + batchByteSize(4) + recordCount(4)
	entrySize = 16
)

// OffsetPosition 索引项, 描述一个批次在 segment 文件中的位置
type OffsetPosition struct {
	Offset        int64  // 批次第一条记录的逻辑 offset
	Position      uint32 // 批次在 segment 文件中的字节偏移
	BatchByteSize uint32 // 批次序列化后的字节数
	RecordCount   uint32 // 批次中的记录数
}

// OffsetIndex segment 对应的 offset 索引文件, 每个批次一条索引项, 按 offset 严格递增排列
type OffsetIndex struct {
	mu         sync.Mutex
	path       string
	baseOffset int64
	ioManager  fio.IOManager
	size       int64 // 索引文件大小
	lastOffset int64 // 最后一条索引项的 offset, 为空时等于 baseOffset
	nextOffset int64 // 最后一个批次之后的下一个 offset
	logger     *zap.Logger
}

// OpenOffsetIndex 打开索引文件, 不存在则创建
func OpenOffsetIndex(path string, baseOffset int64, logger *zap.Logger) (*OffsetIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return nil, errors.Wrapf(err, "create index dir for %s", path)
	}
	ioManager, err := fio.NewIOManager(path, fio.StandardFIO)
	if err != nil {
		return nil, err
	}
	size, err := ioManager.Size()
	if err != nil {
		_ = ioManager.Close()
		return nil, errors.Wrapf(err, "stat index %s", path)
	}
	if size%entrySize != 0 {
		_ = ioManager.Close()
		return nil, errors.Wrapf(ErrIndexCorrupted, "index %s has size %d", path, size)
	}

	idx := &OffsetIndex{
		path:       path,
		baseOffset: baseOffset,
		ioManager:  ioManager,
		size:       size,
		lastOffset: baseOffset,
		nextOffset: baseOffset,
		logger:     logger.With(zap.String("index", path)),
	}
	if err := idx.readLastOffset(); err != nil {
		_ = ioManager.Close()
		return nil, err
	}
	idx.logger.Info("offset index opened",
		zap.Int64("size", idx.size), zap.Int64("last_offset", idx.lastOffset))
	return idx, nil
}

// Add 追加一条索引项
// offset 不小于 nextOffset 时直接写在文件末尾, 否则二分查找插入位置并把后面的索引项整体后移
// 和已有批次的 offset 范围重叠时返回 ErrOffsetConflict
func (idx *OffsetIndex) Add(firstOffset int64, position, batchByteSize, recordCount uint32) error {
	delta := firstOffset - idx.baseOffset
	if delta < 0 || delta > math.MaxUint32 {
		return errors.Wrapf(ErrDeltaOverflow, "offset %d base %d", firstOffset, idx.baseOffset)
	}
	entry := make([]byte, entrySize)
	putEntry(entry, uint32(delta), position, batchByteSize, recordCount)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.size == 0 || firstOffset >= idx.nextOffset {
		if _, err := idx.ioManager.Write(entry); err != nil {
			_ = idx.ioManager.Truncate(idx.size)
			return errors.Wrapf(err, "append index entry %d", firstOffset)
		}
		idx.size += entrySize
		idx.lastOffset = firstOffset
		idx.nextOffset = firstOffset + int64(recordCount)
		return nil
	}
	// 落在最后一个批次的 offset 范围内
	if firstOffset > idx.lastOffset {
		return errors.Wrapf(ErrOffsetConflict, "offset %d overlaps batch %d", firstOffset, idx.lastOffset)
	}

	// offset 乱序到达, 正常的单写者日志不会走到这里
	buf, err := idx.readAll()
	if err != nil {
		return err
	}
	count := idx.entryCount()
	entryIndex := sort.Search(count, func(i int) bool {
		return idx.offsetAt(buf, i) >= firstOffset
	})
	// [firstOffset, firstOffset+recordCount) 不能和前后两个批次重叠
	if entryIndex < count {
		if next := idx.offsetAt(buf, entryIndex); next == firstOffset || next < firstOffset+int64(recordCount) {
			return errors.Wrapf(ErrOffsetConflict, "offset %d overlaps batch %d", firstOffset, next)
		}
	}
	if entryIndex > 0 {
		if prev := idx.positionAt(buf, entryIndex-1); prev.Offset+int64(prev.RecordCount) > firstOffset {
			return errors.Wrapf(ErrOffsetConflict, "offset %d overlaps batch %d", firstOffset, prev.Offset)
		}
	}

	suffix := make([]byte, len(buf)-entryIndex*entrySize)
	copy(suffix, buf[entryIndex*entrySize:])

	at := int64(entryIndex * entrySize)
	if _, err := idx.ioManager.WriteAt(entry, at); err != nil {
		idx.restoreSuffix(at, suffix)
		return errors.Wrapf(err, "insert index entry %d", firstOffset)
	}
	if _, err := idx.ioManager.WriteAt(suffix, at+entrySize); err != nil {
		idx.restoreSuffix(at, suffix)
		return errors.Wrapf(err, "shift index entries after %d", firstOffset)
	}
	idx.size += entrySize
	idx.logger.Warn("index entry inserted out of order",
		zap.Int64("offset", firstOffset), zap.Int("slot", entryIndex))
	return nil
}

// FirstOffsetPosition 查找 offset 所在批次的索引项, 即 offset 不大于目标值的最后一条
// 索引为空或者 offset 大于 lastOffset 时返回 nil
func (idx *OffsetIndex) FirstOffsetPosition(offset int64) (*OffsetPosition, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.size == 0 || offset > idx.lastOffset {
		return nil, nil
	}
	view, err := idx.openView()
	if err != nil {
		return nil, err
	}
	defer view.Close()

	i, err := idx.search(view, func(o int64) bool { return o > offset })
	if err != nil || i == 0 {
		return nil, err
	}
	return idx.entryAt(view, i-1)
}

// Lookup 返回包含 offset 的批次的索引项
// offset 落在两个批次之间的空洞里时返回后一个批次, 之后没有批次时返回 nil
func (idx *OffsetIndex) Lookup(offset int64) (*OffsetPosition, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.size == 0 || offset >= idx.nextOffset {
		return nil, nil
	}
	view, err := idx.openView()
	if err != nil {
		return nil, err
	}
	defer view.Close()

	i, err := idx.search(view, func(o int64) bool { return o > offset })
	if err != nil {
		return nil, err
	}
	if i > 0 {
		floor, err := idx.entryAt(view, i-1)
		if err != nil {
			return nil, err
		}
		if offset < floor.Offset+int64(floor.RecordCount) {
			return floor, nil
		}
	}
	if i == idx.entryCount() {
		return nil, nil
	}
	return idx.entryAt(view, i)
}

// LastEntry 返回最后一条索引项, 索引为空时返回 nil
func (idx *OffsetIndex) LastEntry() (*OffsetPosition, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.lastEntry()
}

// Remove 删除 offset 对应的索引项, 用于写数据失败后回滚
func (idx *OffsetIndex) Remove(offset int64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.size == 0 {
		return errors.Wrapf(ErrEntryNotFound, "offset %d", offset)
	}
	buf, err := idx.readAll()
	if err != nil {
		return err
	}
	count := idx.entryCount()
	i := sort.Search(count, func(i int) bool {
		return idx.offsetAt(buf, i) >= offset
	})
	if i == count || idx.offsetAt(buf, i) != offset {
		return errors.Wrapf(ErrEntryNotFound, "offset %d", offset)
	}

	if i < count-1 {
		if _, err := idx.ioManager.WriteAt(buf[(i+1)*entrySize:], int64(i*entrySize)); err != nil {
			return errors.Wrapf(err, "shift index entries after %d", offset)
		}
	}
	if err := idx.ioManager.Truncate(idx.size - entrySize); err != nil {
		return errors.Wrapf(err, "truncate index %s", idx.path)
	}
	idx.size -= entrySize
	return idx.readLastOffset()
}

// Entries 返回所有的索引项
func (idx *OffsetIndex) Entries() ([]*OffsetPosition, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.size == 0 {
		return nil, nil
	}
	buf, err := idx.readAll()
	if err != nil {
		return nil, err
	}
	entries := make([]*OffsetPosition, idx.entryCount())
	for i := range entries {
		entries[i] = idx.positionAt(buf, i)
	}
	return entries, nil
}

// PrintEntries 打印所有的索引项, 仅用于排查问题
func (idx *OffsetIndex) PrintEntries() {
	entries, err := idx.Entries()
	if err != nil {
		idx.logger.Error("failed to read index entries", zap.Error(err))
		return
	}
	if len(entries) == 0 {
		idx.logger.Info("no entries to print")
		return
	}
	for _, e := range entries {
		idx.logger.Info("index entry",
			zap.Int64("first_offset", e.Offset),
			zap.Uint32("position", e.Position),
			zap.Uint32("batch_byte_size", e.BatchByteSize),
			zap.Uint32("record_count", e.RecordCount))
	}
}

func (idx *OffsetIndex) BaseOffset() int64 {
	return idx.baseOffset
}

func (idx *OffsetIndex) Path() string {
	return idx.path
}

func (idx *OffsetIndex) LastOffset() int64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.lastOffset
}

// NextOffset 下一个待分配的 offset
func (idx *OffsetIndex) NextOffset() int64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.nextOffset
}

func (idx *OffsetIndex) EntryCount() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.entryCount()
}

func (idx *OffsetIndex) Sync() error {
	return idx.ioManager.Sync()
}

func (idx *OffsetIndex) Close() error {
	return idx.ioManager.Close()
}

func (idx *OffsetIndex) entryCount() int {
	return int(idx.size / entrySize)
}

// 根据最后一条索引项重新计算 lastOffset 和 nextOffset, 调用前必须持有锁
func (idx *OffsetIndex) readLastOffset() error {
	last, err := idx.lastEntry()
	if err != nil {
		return err
	}
	if last == nil {
		idx.lastOffset = idx.baseOffset
		idx.nextOffset = idx.baseOffset
		return nil
	}
	idx.lastOffset = last.Offset
	idx.nextOffset = last.Offset + int64(last.RecordCount)
	return nil
}

func (idx *OffsetIndex) lastEntry() (*OffsetPosition, error) {
	if idx.size == 0 {
		return nil, nil
	}
	buf := make([]byte, entrySize)
	if _, err := idx.ioManager.Read(buf, idx.size-entrySize); err != nil {
		return nil, errors.Wrapf(err, "read last index entry of %s", idx.path)
	}
	return idx.positionAt(buf, 0), nil
}

// 读取整个索引文件, 只用于乱序插入, 删除和全量列出
func (idx *OffsetIndex) readAll() ([]byte, error) {
	view, err := idx.openView()
	if err != nil {
		return nil, err
	}
	defer view.Close()

	buf := make([]byte, idx.size)
	if _, err := view.Read(buf, 0); err != nil {
		return nil, errors.Wrapf(err, "read index %s", idx.path)
	}
	return buf, nil
}

// 索引文件的只读视图, 调用前必须持有锁
func (idx *OffsetIndex) openView() (fio.IOManager, error) {
	return fio.NewIOManager(idx.path, fio.MemoryMap)
}

// 直接在视图上二分查找, 每次只读取索引项开头的 4 字节 delta
// 返回第一个满足 f 的索引项下标, 都不满足时返回 entryCount
func (idx *OffsetIndex) search(view fio.IOManager, f func(offset int64) bool) (int, error) {
	var readErr error
	delta := make([]byte, 4)
	i := sort.Search(idx.entryCount(), func(n int) bool {
		if readErr != nil {
			return true
		}
		if _, err := view.Read(delta, int64(n*entrySize)); err != nil {
			readErr = err
			return true
		}
		return f(idx.baseOffset + int64(binary.BigEndian.Uint32(delta)))
	})
	if readErr != nil {
		return 0, errors.Wrapf(readErr, "search index %s", idx.path)
	}
	return i, nil
}

func (idx *OffsetIndex) entryAt(view fio.IOManager, n int) (*OffsetPosition, error) {
	buf := make([]byte, entrySize)
	if _, err := view.Read(buf, int64(n*entrySize)); err != nil {
		return nil, errors.Wrapf(err, "read index entry %d of %s", n, idx.path)
	}
	return idx.positionAt(buf, 0), nil
}

// 插入失败时把原来的后缀写回去, 尽量保持索引文件可用
func (idx *OffsetIndex) restoreSuffix(at int64, suffix []byte) {
	if _, err := idx.ioManager.WriteAt(suffix, at); err != nil {
		idx.logger.Error("failed to restore index suffix", zap.Error(err))
	}
	if err := idx.ioManager.Truncate(idx.size); err != nil {
		idx.logger.Error("failed to truncate index", zap.Error(err))
	}
}

func (idx *OffsetIndex) offsetAt(buf []byte, n int) int64 {
	return idx.baseOffset + int64(binary.BigEndian.Uint32(buf[n*entrySize:]))
}

func (idx *OffsetIndex) positionAt(buf []byte, n int) *OffsetPosition {
	b := buf[n*entrySize : (n+1)*entrySize]
	return &OffsetPosition{
		Offset:        idx.baseOffset + int64(binary.BigEndian.Uint32(b[0:4])),
		Position:      binary.BigEndian.Uint32(b[4:8]),
		BatchByteSize: binary.BigEndian.Uint32(b[8:12]),
		RecordCount:   binary.BigEndian.Uint32(b[12:16]),
	}
}

func putEntry(b []byte, delta, position, batchByteSize, recordCount uint32) {
	binary.BigEndian.PutUint32(b[0:4], delta)
	binary.BigEndian.PutUint32(b[4:8], position)
	binary.BigEndian.PutUint32(b[8:12], batchByteSize)
	binary.BigEndian.PutUint32(b[12:16], recordCount)
}
