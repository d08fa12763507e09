package catalog

import (
	"sync"

	"coda/data"

	"github.com/google/btree"
)

// BTree 目录, 主要封装了 google 的 btree 库
// https://github.com/google/btree
type BTree struct {
	tree *btree.BTree
	lock *sync.RWMutex
}

// NewBTree 新建 BTree 目录
func NewBTree() *BTree {
	return &BTree{
		tree: btree.New(32),
		lock: new(sync.RWMutex),
	}
}

func (bt *BTree) Put(key []byte, meta *data.ShardMeta) *data.ShardMeta {
	it := &Item{key: key, meta: meta}
	bt.lock.Lock()
	oldItem := bt.tree.ReplaceOrInsert(it)
	bt.lock.Unlock()
	if oldItem == nil {
		return nil
	}
	return oldItem.(*Item).meta
}

func (bt *BTree) Get(key []byte) *data.ShardMeta {
	it := &Item{key: key}
	bt.lock.RLock()
	btreeItem := bt.tree.Get(it)
	bt.lock.RUnlock()
	if btreeItem == nil {
		return nil
	}
	return btreeItem.(*Item).meta
}

func (bt *BTree) Delete(key []byte) (*data.ShardMeta, bool) {
	it := &Item{key: key}
	bt.lock.Lock()
	oldItem := bt.tree.Delete(it)
	bt.lock.Unlock()
	if oldItem == nil {
		return nil, false
	}
	return oldItem.(*Item).meta, true
}

func (bt *BTree) Size() int {
	bt.lock.RLock()
	defer bt.lock.RUnlock()
	return bt.tree.Len()
}

func (bt *BTree) Iterator(reverse bool) Iterator {
	bt.lock.RLock()
	defer bt.lock.RUnlock()

	var idx int
	values := make([]*Item, bt.tree.Len())
	saveValues := func(it btree.Item) bool {
		values[idx] = it.(*Item)
		idx++
		return true
	}
	if reverse {
		bt.tree.Descend(saveValues)
	} else {
		bt.tree.Ascend(saveValues)
	}
	return &sliceIterator{reverse: reverse, values: values}
}

func (bt *BTree) Close() error {
	return nil
}
