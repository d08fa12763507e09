package catalog

import (
	"bytes"
	"errors"
	"sort"

	"coda/data"

	"github.com/google/btree"
)

var ErrUnsupportedCatalogType = errors.New("unsupported catalog type")

// Catalog 分片目录抽象接口, key 为 data.ShardKey, value 为分片元数据
// 后续接入其他数据结构, 直接实现这个接口即可
type Catalog interface {
	// Put 存入分片元数据, 返回旧的值
	Put(key []byte, meta *data.ShardMeta) *data.ShardMeta

	// Get 根据 key 取出分片元数据
	Get(key []byte) *data.ShardMeta

	// Delete 根据 key 删除分片元数据, 返回旧的值
	Delete(key []byte) (*data.ShardMeta, bool)

	// Size 分片数量
	Size() int

	// Iterator 按 key 有序遍历
	Iterator(reverse bool) Iterator

	// Close 关闭目录
	Close() error
}

// PrefixLister 支持按 key 前缀直接列出分片的目录
type PrefixLister interface {
	Prefix(prefix []byte) []*data.ShardMeta
}

type Type = int8

const (
	// BTreeCatalog 内存 BTree
	BTreeCatalog Type = iota + 1

	// ARTCatalog Adaptive Radix Tree 自适应基数树
	ARTCatalog

	// BPlusTreeCatalog 持久化的 B+ 树
	BPlusTreeCatalog
)

// NewCatalog 根据类型初始化目录, dirPath 和 sync 只对 B+ 树生效
func NewCatalog(typ Type, dirPath string, sync bool) (Catalog, error) {
	switch typ {
	case BTreeCatalog:
		return NewBTree(), nil
	case ARTCatalog:
		return NewART(), nil
	case BPlusTreeCatalog:
		return NewBPlusTree(dirPath, sync)
	default:
		return nil, ErrUnsupportedCatalogType
	}
}

// Iterator 通用目录迭代器
type Iterator interface {
	// Rewind 重新回到迭代器的起点, 即第一个数据
	Rewind()

	// Seek 根据传入的 key 查找到第一个大于(或小于)等于的目标 key, 从这个 key 开始遍历
	Seek(key []byte)

	// Next 跳转到下一个 key
	Next()

	// Valid 是否有效, 即是否已经遍历完了所有的 key
	Valid() bool

	// Key 当前遍历位置的 key
	Key() []byte

	// Value 当前遍历位置的分片元数据
	Value() *data.ShardMeta

	// Close 关闭迭代器, 释放相应资源
	Close()
}

type Item struct {
	key  []byte
	meta *data.ShardMeta
}

// Less 自定义 btree 中 key 的比较方法(排序规则)
func (ai *Item) Less(bi btree.Item) bool {
	return bytes.Compare(ai.key, bi.(*Item).key) == -1
}

// 内存目录的迭代器, 创建时把数据拷贝到数组中
type sliceIterator struct {
	currIndex int     // 当前遍历的下标位置
	reverse   bool    // 是否是反向遍历
	values    []*Item // key + 分片元数据
}

func (si *sliceIterator) Rewind() {
	si.currIndex = 0
}

func (si *sliceIterator) Seek(key []byte) {
	if si.reverse {
		si.currIndex = sort.Search(len(si.values), func(i int) bool {
			return bytes.Compare(si.values[i].key, key) <= 0
		})
	} else {
		si.currIndex = sort.Search(len(si.values), func(i int) bool {
			return bytes.Compare(si.values[i].key, key) >= 0
		})
	}
}

func (si *sliceIterator) Next() {
	si.currIndex += 1
}

func (si *sliceIterator) Valid() bool {
	return si.currIndex < len(si.values)
}

func (si *sliceIterator) Key() []byte {
	return si.values[si.currIndex].key
}

func (si *sliceIterator) Value() *data.ShardMeta {
	return si.values[si.currIndex].meta
}

func (si *sliceIterator) Close() {
	si.values = nil
}
