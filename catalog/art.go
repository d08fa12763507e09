package catalog

import (
	"sync"

	"coda/data"

	goart "github.com/plar/go-adaptive-radix-tree"
)

// AdaptiveRadixTree 自适应基数树目录
// 主要封装了 https://github.com/plar/go-adaptive-radix-tree
// 同一个队列的分片共享 key 前缀, 按队列列出分片时可以直接走前缀遍历
type AdaptiveRadixTree struct {
	tree goart.Tree
	lock *sync.RWMutex
}

// NewART 初始化自适应基数树目录
func NewART() *AdaptiveRadixTree {
	return &AdaptiveRadixTree{
		tree: goart.New(),
		lock: new(sync.RWMutex),
	}
}

func (art *AdaptiveRadixTree) Put(key []byte, meta *data.ShardMeta) *data.ShardMeta {
	art.lock.Lock()
	oldValue, _ := art.tree.Insert(key, meta)
	art.lock.Unlock()
	if oldValue == nil {
		return nil
	}
	return oldValue.(*data.ShardMeta)
}

func (art *AdaptiveRadixTree) Get(key []byte) *data.ShardMeta {
	art.lock.RLock()
	defer art.lock.RUnlock()
	value, found := art.tree.Search(key)
	if !found {
		return nil
	}
	return value.(*data.ShardMeta)
}

func (art *AdaptiveRadixTree) Delete(key []byte) (*data.ShardMeta, bool) {
	art.lock.Lock()
	oldValue, deleted := art.tree.Delete(key)
	art.lock.Unlock()
	if oldValue == nil {
		return nil, false
	}
	return oldValue.(*data.ShardMeta), deleted
}

func (art *AdaptiveRadixTree) Size() int {
	art.lock.RLock()
	defer art.lock.RUnlock()
	return art.tree.Size()
}

func (art *AdaptiveRadixTree) Iterator(reverse bool) Iterator {
	art.lock.RLock()
	defer art.lock.RUnlock()
	return &sliceIterator{reverse: reverse, values: collectNodes(art.tree, nil, reverse)}
}

// Prefix 列出 key 以 prefix 开头的分片
func (art *AdaptiveRadixTree) Prefix(prefix []byte) []*data.ShardMeta {
	art.lock.RLock()
	defer art.lock.RUnlock()
	values := collectNodes(art.tree, prefix, false)
	metas := make([]*data.ShardMeta, len(values))
	for i, v := range values {
		metas[i] = v.meta
	}
	return metas
}

func (art *AdaptiveRadixTree) Close() error {
	return nil
}

func collectNodes(tree goart.Tree, prefix []byte, reverse bool) []*Item {
	values := make([]*Item, 0, tree.Size())
	saveValues := func(node goart.Node) bool {
		// 前缀遍历也会回调内部节点, 内部节点没有 value
		if node.Kind() != goart.Leaf {
			return true
		}
		values = append(values, &Item{key: node.Key(), meta: node.Value().(*data.ShardMeta)})
		return true
	}
	if len(prefix) > 0 {
		tree.ForEachPrefix(prefix, saveValues)
	} else {
		tree.ForEach(saveValues)
	}
	if reverse {
		for i, j := 0, len(values)-1; i < j; i, j = i+1, j-1 {
			values[i], values[j] = values[j], values[i]
		}
	}
	return values
}
