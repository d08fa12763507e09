package catalog

import (
	"path/filepath"

	"coda/data"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

const bptreeCatalogFileName = "shard-catalog"

var catalogBucketName = []byte("coda-shards")

// BPlusTree B+ 树目录, 持久化到数据目录中, 重启后不需要扫描目录就能恢复所有的分片
// 主要封装了 go.etcd.io/bbolt
type BPlusTree struct {
	tree *bbolt.DB
}

// NewBPlusTree 初始化 B+ 树目录
func NewBPlusTree(dirPath string, syncWrites bool) (*BPlusTree, error) {
	opts := *bbolt.DefaultOptions
	opts.NoSync = !syncWrites
	bptree, err := bbolt.Open(filepath.Join(dirPath, bptreeCatalogFileName), 0644, &opts)
	if err != nil {
		return nil, errors.Wrap(err, "open bptree catalog")
	}

	// 创建对应的 bucket
	if err := bptree.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(catalogBucketName)
		return err
	}); err != nil {
		_ = bptree.Close()
		return nil, errors.Wrap(err, "create bucket in bptree catalog")
	}

	return &BPlusTree{tree: bptree}, nil
}

func (bpt *BPlusTree) Put(key []byte, meta *data.ShardMeta) *data.ShardMeta {
	var oldValue []byte
	if err := bpt.tree.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(catalogBucketName)
		if v := bucket.Get(key); v != nil {
			oldValue = append([]byte(nil), v...)
		}
		return bucket.Put(key, data.EncodeShardMeta(meta))
	}); err != nil {
		panic("failed to put value in bptree catalog")
	}
	if len(oldValue) == 0 {
		return nil
	}
	return data.DecodeShardMeta(oldValue)
}

func (bpt *BPlusTree) Get(key []byte) *data.ShardMeta {
	var meta *data.ShardMeta
	if err := bpt.tree.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(catalogBucketName)
		value := bucket.Get(key)
		if len(value) != 0 {
			meta = data.DecodeShardMeta(value)
		}
		return nil
	}); err != nil {
		panic("failed to get value in bptree catalog")
	}
	return meta
}

func (bpt *BPlusTree) Delete(key []byte) (*data.ShardMeta, bool) {
	var oldValue []byte
	if err := bpt.tree.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(catalogBucketName)
		if v := bucket.Get(key); len(v) != 0 {
			oldValue = append([]byte(nil), v...)
			return bucket.Delete(key)
		}
		return nil
	}); err != nil {
		panic("failed to delete value in bptree catalog")
	}
	if len(oldValue) == 0 {
		return nil, false
	}
	return data.DecodeShardMeta(oldValue), true
}

func (bpt *BPlusTree) Size() int {
	var size int
	if err := bpt.tree.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(catalogBucketName)
		size = bucket.Stats().KeyN
		return nil
	}); err != nil {
		panic("failed to get size in bptree catalog")
	}
	return size
}

func (bpt *BPlusTree) Iterator(reverse bool) Iterator {
	return newBptreeIterator(bpt.tree, reverse)
}

func (bpt *BPlusTree) Close() error {
	return bpt.tree.Close()
}

type bptreeIterator struct {
	tx        *bbolt.Tx
	cursor    *bbolt.Cursor
	reverse   bool
	currKey   []byte
	currValue []byte
}

func newBptreeIterator(tree *bbolt.DB, reverse bool) *bptreeIterator {
	tx, err := tree.Begin(false)
	if err != nil {
		panic("failed to begin a transaction")
	}
	bpi := &bptreeIterator{
		tx:      tx,
		cursor:  tx.Bucket(catalogBucketName).Cursor(),
		reverse: reverse,
	}
	bpi.Rewind()
	return bpi
}

func (bpi *bptreeIterator) Rewind() {
	if bpi.reverse {
		bpi.currKey, bpi.currValue = bpi.cursor.Last()
	} else {
		bpi.currKey, bpi.currValue = bpi.cursor.First()
	}
}

func (bpi *bptreeIterator) Seek(key []byte) {
	bpi.currKey, bpi.currValue = bpi.cursor.Seek(key)
	if !bpi.reverse {
		return
	}
	// 反向遍历时定位到第一个小于等于 key 的位置
	if bpi.currKey == nil {
		bpi.currKey, bpi.currValue = bpi.cursor.Last()
	} else if string(bpi.currKey) != string(key) {
		bpi.currKey, bpi.currValue = bpi.cursor.Prev()
	}
}

func (bpi *bptreeIterator) Next() {
	if bpi.reverse {
		bpi.currKey, bpi.currValue = bpi.cursor.Prev()
	} else {
		bpi.currKey, bpi.currValue = bpi.cursor.Next()
	}
}

func (bpi *bptreeIterator) Valid() bool {
	return len(bpi.currKey) != 0
}

func (bpi *bptreeIterator) Key() []byte {
	return bpi.currKey
}

func (bpi *bptreeIterator) Value() *data.ShardMeta {
	return data.DecodeShardMeta(bpi.currValue)
}

func (bpi *bptreeIterator) Close() {
	_ = bpi.tx.Rollback()
}
