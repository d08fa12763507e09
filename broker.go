package coda

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"coda/catalog"
	"coda/codec"
	"coda/data"
	"coda/store"
	"coda/utils"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

const fileLockName = "flock"

// Broker 管理一个数据目录下所有分片的分区日志
type Broker struct {
	options  Options
	mu       *sync.RWMutex
	catalog  catalog.Catalog                // 分片目录
	logs     map[string]*store.PartitionLog // 已经打开的分区日志, key 为 data.ShardKey
	fileLock *flock.Flock                   // 文件锁
	codec    codec.Codec
	logger   *zap.Logger
	closed   bool
}

// Stat 统计信息
type Stat struct {
	ShardNum      uint   // 分片数量
	OpenLogNum    uint   // 已经打开的分区日志数量
	RecordNum     int64  // 已打开日志中的记录总数
	DiskSize      int64  // 占用磁盘空间的大小
	AvailableSize uint64 // 磁盘剩余空间
}

// Open 打开数据目录, 加载分片目录
func Open(options Options) (*Broker, error) {
	// 对用户传入的配置项进行校验
	if err := checkOptions(options); err != nil {
		return nil, err
	}

	// 判断数据目录是否存在, 如果不存在的话, 则创建这个目录
	if _, err := os.Stat(options.DirPath); os.IsNotExist(err) {
		if err := os.MkdirAll(options.DirPath, os.ModePerm); err != nil {
			return nil, errors.Wrapf(err, "create dir %s", options.DirPath)
		}
	}

	// 判断是否正在使用
	fileLock := flock.New(filepath.Join(options.DirPath, fileLockName))
	hold, err := fileLock.TryLock()
	if err != nil {
		return nil, errors.Wrap(err, "lock data dir")
	}
	if !hold {
		return nil, ErrDirIsUsing
	}

	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := options.Codec
	if c == nil {
		c = codec.NewMsgpackCodec(nil)
	}

	cat, err := catalog.NewCatalog(catalog.Type(options.CatalogType), options.DirPath, options.SyncWrites)
	if err != nil {
		_ = fileLock.Unlock()
		return nil, err
	}

	b := &Broker{
		options:  options,
		mu:       new(sync.RWMutex),
		catalog:  cat,
		logs:     make(map[string]*store.PartitionLog),
		fileLock: fileLock,
		codec:    c,
		logger:   logger.With(zap.String("dir", options.DirPath)),
	}

	// 从数据目录中加载分片
	if err := b.loadShards(); err != nil {
		_ = cat.Close()
		_ = fileLock.Unlock()
		return nil, err
	}
	b.logger.Info("broker opened",
		zap.Stringer("catalog", options.CatalogType), zap.Int("shards", cat.Size()))
	return b, nil
}

// Log 获取分片的分区日志, 分片不存在并且开启了 AutoCreateShards 时自动创建
func (b *Broker) Log(queue string, shardID int32) (*store.PartitionLog, error) {
	return b.log(queue, shardID, b.options.AutoCreateShards)
}

// CreateShard 创建分片, 已经存在时返回 ErrShardExists
func (b *Broker) CreateShard(queue string, shardID int32) (*store.PartitionLog, error) {
	if err := checkShard(queue, shardID); err != nil {
		return nil, err
	}
	if b.catalog.Get(data.ShardKey(queue, shardID)) != nil {
		return nil, ErrShardExists
	}
	return b.log(queue, shardID, true)
}

// Append 把记录作为一个批次写入分片, 返回分配的 offset 范围
func (b *Broker) Append(queue string, shardID int32, records ...data.Record) (*store.AppendResult, error) {
	l, err := b.Log(queue, shardID)
	if err != nil {
		return nil, err
	}
	return l.AppendNext(data.NewRecordBatch(records...))
}

// Fetch 从分片的 offset 处读取批次, maxBytes 小于等于 0 时使用配置的默认值
// 读取不会创建分片
func (b *Broker) Fetch(queue string, shardID int32, offset int64, maxBytes int32) (*store.FetchResult, error) {
	l, err := b.log(queue, shardID, false)
	if err != nil {
		return nil, err
	}
	if maxBytes <= 0 {
		maxBytes = b.options.FetchMaxBytes
	}
	res, err := l.Fetch(offset, maxBytes)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &store.FetchResult{ErrorCode: data.ErrCodeNone, HighWatermark: -1}
	}
	return res, nil
}

// Shards 列出 key 以 prefix 开头的分片, prefix 为队列名称时列出这个队列的所有分片
func (b *Broker) Shards(prefix string) []*data.ShardMeta {
	if prefix != "" && !strings.Contains(prefix, "/") {
		prefix += "/"
	}
	var metas []*data.ShardMeta
	if lister, ok := b.catalog.(catalog.PrefixLister); ok && prefix != "" {
		metas = lister.Prefix([]byte(prefix))
	} else {
		iterator := b.catalog.Iterator(false)
		for iterator.Seek([]byte(prefix)); iterator.Valid(); iterator.Next() {
			if !bytes.HasPrefix(iterator.Key(), []byte(prefix)) {
				break
			}
			metas = append(metas, iterator.Value())
		}
		iterator.Close()
	}
	// 同一个队列下按分片 id 的数值排序
	slices.SortStableFunc(metas, func(a, b *data.ShardMeta) int {
		if c := strings.Compare(a.Queue, b.Queue); c != 0 {
			return c
		}
		return int(a.ShardID) - int(b.ShardID)
	})
	return metas
}

// Stat 返回相关统计信息
func (b *Broker) Stat() (*Stat, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var records int64
	for _, l := range b.logs {
		records += l.NextOffset() - l.BaseOffset()
	}
	dirSize, err := utils.DirSize(b.options.DirPath)
	if err != nil {
		return nil, errors.Wrap(err, "get dir size")
	}
	available, err := utils.AvailableDiskSize(b.options.DirPath)
	if err != nil {
		return nil, errors.Wrap(err, "get available disk size")
	}
	return &Stat{
		ShardNum:      uint(b.catalog.Size()),
		OpenLogNum:    uint(len(b.logs)),
		RecordNum:     records,
		DiskSize:      dirSize,
		AvailableSize: available,
	}, nil
}

// Sync 持久化所有已经打开的分区日志
func (b *Broker) Sync() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, l := range b.logs {
		if err := l.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// Close 关闭所有分区日志和分片目录, 释放文件锁
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	defer func() {
		if err := b.fileLock.Unlock(); err != nil {
			b.logger.Error("failed to unlock the directory", zap.Error(err))
		}
	}()

	for key, l := range b.logs {
		if err := l.Sync(); err != nil {
			return err
		}
		if err := l.Close(); err != nil {
			return err
		}
		delete(b.logs, key)
	}
	if err := b.catalog.Close(); err != nil {
		return err
	}
	b.logger.Info("broker closed")
	return nil
}

func (b *Broker) log(queue string, shardID int32, create bool) (*store.PartitionLog, error) {
	if err := checkShard(queue, shardID); err != nil {
		return nil, err
	}
	key := string(data.ShardKey(queue, shardID))

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrBrokerClosed
	}
	l, ok := b.logs[key]
	b.mu.RUnlock()
	if ok {
		return l, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}
	if l, ok := b.logs[key]; ok {
		return l, nil
	}

	meta := b.catalog.Get([]byte(key))
	created := false
	if meta == nil {
		if !create {
			return nil, ErrShardNotFound
		}
		meta = &data.ShardMeta{
			Queue:      queue,
			ShardID:    shardID,
			BaseOffset: 0,
			CreatedAt:  time.Now().UnixMilli(),
		}
		b.catalog.Put([]byte(key), meta)
		created = true
		b.logger.Info("shard created", zap.String("queue", queue), zap.Int32("shard", shardID))
	}

	l, err := b.openLog(meta)
	if err != nil {
		// 新建的分片打不开, 从目录中撤销, 避免留下没有日志的分片
		if created {
			b.catalog.Delete([]byte(key))
		}
		return nil, err
	}
	b.logs[key] = l
	return l, nil
}

// 打开分片对应的索引文件和 segment 文件, 调用前必须持有写锁
func (b *Broker) openLog(meta *data.ShardMeta) (*store.PartitionLog, error) {
	dir := b.shardDir(meta.Queue, meta.ShardID)
	logger := b.logger.With(zap.String("queue", meta.Queue), zap.Int32("shard", meta.ShardID))

	index, err := store.OpenOffsetIndex(store.IndexFileName(dir, meta.BaseOffset), meta.BaseOffset, logger)
	if err != nil {
		return nil, err
	}
	l, err := store.OpenPartitionLog(store.SegmentFileName(dir, meta.BaseOffset), meta.BaseOffset, index, b.codec,
		store.LogOptions{
			SyncWrites:   b.options.SyncWrites,
			BytesPerSync: b.options.BytesPerSync,
			Logger:       logger,
		})
	if err != nil {
		_ = index.Close()
		return nil, err
	}
	return l, nil
}

func (b *Broker) shardDir(queue string, shardID int32) string {
	return filepath.Join(b.options.DirPath, fmt.Sprintf("%s-%d", queue, shardID))
}

// 扫描数据目录, 把磁盘上已经存在的分片加入分片目录
// 分片目录为 <queue>-<shard>, 其中的 segment 文件名即为 base offset
func (b *Broker) loadShards() error {
	dirEntries, err := os.ReadDir(b.options.DirPath)
	if err != nil {
		return errors.Wrapf(err, "read dir %s", b.options.DirPath)
	}

	for _, entry := range dirEntries {
		if !entry.IsDir() {
			continue
		}
		queue, shardID, ok := parseShardDir(entry.Name())
		if !ok {
			continue
		}
		baseOffset, found, err := b.findSegment(filepath.Join(b.options.DirPath, entry.Name()))
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		key := data.ShardKey(queue, shardID)
		if meta := b.catalog.Get(key); meta != nil && meta.BaseOffset == baseOffset {
			continue
		}
		b.catalog.Put(key, &data.ShardMeta{
			Queue:      queue,
			ShardID:    shardID,
			BaseOffset: baseOffset,
			CreatedAt:  time.Now().UnixMilli(),
		})
	}
	return nil
}

// 找到分片目录下的 segment 文件, 一个分片只有一个 segment
func (b *Broker) findSegment(dir string) (int64, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, false, errors.Wrapf(err, "read dir %s", dir)
	}
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), store.LogFileNameSuffix) {
			continue
		}
		baseOffset, err := strconv.ParseInt(strings.TrimSuffix(entry.Name(), store.LogFileNameSuffix), 10, 64)
		// 数据目录有可能被损坏了
		if err != nil {
			return 0, false, errors.Wrapf(ErrDataDirectoryCorrupted, "segment %s", filepath.Join(dir, entry.Name()))
		}
		return baseOffset, true, nil
	}
	return 0, false, nil
}

func parseShardDir(name string) (string, int32, bool) {
	idx := strings.LastIndexByte(name, '-')
	if idx <= 0 || idx == len(name)-1 {
		return "", 0, false
	}
	shardID, err := strconv.ParseInt(name[idx+1:], 10, 32)
	if err != nil || shardID < 0 {
		return "", 0, false
	}
	return name[:idx], int32(shardID), true
}

func checkShard(queue string, shardID int32) error {
	if queue == "" || strings.ContainsAny(queue, `/\`) || queue == "." || queue == ".." {
		return ErrQueueNameInvalid
	}
	if shardID < 0 {
		return ErrShardIDInvalid
	}
	return nil
}
