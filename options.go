package coda

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"coda/catalog"
	"coda/codec"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

type Options struct {
	// 数据目录
	DirPath string `yaml:"dir_path"`

	// 是否每次写入持久化
	SyncWrites bool `yaml:"sync_writes"`

	// 累计写到多少字节后进行持久化
	BytesPerSync uint `yaml:"bytes_per_sync"`

	// 分片目录类型
	CatalogType CatalogType `yaml:"catalog_type"`

	// 写入不存在的分片时是否自动创建
	AutoCreateShards bool `yaml:"auto_create_shards"`

	// Fetch 未指定 maxBytes 时使用的默认值
	FetchMaxBytes int32 `yaml:"fetch_max_bytes"`

	Logger *zap.Logger `yaml:"-"`

	// 批次的编解码器, 为空时使用 msgpack
	Codec codec.Codec `yaml:"-"`
}

// WriteBatchOptions 批量写配置项
type WriteBatchOptions struct {
	// 一个批次中最大的记录数量
	MaxBatchNum uint

	// 提交时是否持久化
	SyncWrites bool
}

// IteratorOptions 迭代器配置项
type IteratorOptions struct {
	// 开始遍历的 offset
	StartOffset int64

	// 每次从日志读取的最大字节数, 为 0 时使用 Options.FetchMaxBytes
	MaxBytes int32
}

// CatalogType 分片目录类型, 配置文件中写作 btree / art / bptree
type CatalogType int8

const (
	// BTree 索引
	BTree CatalogType = CatalogType(catalog.BTreeCatalog)

	// ART 自适应基数树索引
	ART CatalogType = CatalogType(catalog.ARTCatalog)

	// BPlusTree B+ 树, 将分片目录持久化到磁盘
	BPlusTree CatalogType = CatalogType(catalog.BPlusTreeCatalog)
)

func (t CatalogType) String() string {
	switch t {
	case BTree:
		return "btree"
	case ART:
		return "art"
	case BPlusTree:
		return "bptree"
	default:
		return fmt.Sprintf("CatalogType(%d)", int8(t))
	}
}

func (t CatalogType) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}

func (t *CatalogType) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	switch strings.ToLower(s) {
	case "btree":
		*t = BTree
	case "art":
		*t = ART
	case "bptree", "bplustree":
		*t = BPlusTree
	default:
		return errors.Errorf("unknown catalog type %q", s)
	}
	return nil
}

var DefaultOptions = Options{
	DirPath:          filepath.Join(os.TempDir(), "coda"),
	SyncWrites:       false,
	BytesPerSync:     0,
	CatalogType:      BTree,
	AutoCreateShards: true,
	FetchMaxBytes:    1 << 20,
}

var DefaultWriteBatchOptions = WriteBatchOptions{
	MaxBatchNum: 10000,
	SyncWrites:  true,
}

var DefaultIteratorOptions = IteratorOptions{
	StartOffset: 0,
	MaxBytes:    0,
}

// LoadOptions 从 yaml 文件加载配置, 文件中没有的配置项使用默认值
func LoadOptions(path string) (Options, error) {
	options := DefaultOptions
	buf, err := os.ReadFile(path)
	if err != nil {
		return options, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(buf, &options); err != nil {
		return options, errors.Wrapf(err, "parse config %s", path)
	}
	return options, nil
}

func checkOptions(options Options) error {
	if options.DirPath == "" {
		return errors.New("broker dir path is empty")
	}
	if options.FetchMaxBytes <= 0 {
		return errors.New("fetch max bytes must be greater than 0")
	}
	switch options.CatalogType {
	case BTree, ART, BPlusTree:
	default:
		return catalog.ErrUnsupportedCatalogType
	}
	return nil
}
