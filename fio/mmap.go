package fio

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"
)

// MMap 内存文件映射, 只用于读取
// 每次打开都是文件当前内容的一个独立视图, 用完即关闭, 不在多个调用之间共享
type MMap struct {
	readerAt *mmap.ReaderAt
}

// NewMMapIOManager 初始化 MMap IO
func NewMMapIOManager(fileName string) (*MMap, error) {
	fd, err := os.OpenFile(fileName, os.O_CREATE, DataFilePerm)
	if err != nil {
		return nil, errors.Wrapf(err, "open file %s", fileName)
	}
	_ = fd.Close()

	readerAt, err := mmap.Open(fileName)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap file %s", fileName)
	}
	return &MMap{readerAt: readerAt}, nil
}

func (mmap *MMap) Read(b []byte, offset int64) (int, error) {
	return mmap.readerAt.ReadAt(b, offset)
}

func (mmap *MMap) Write([]byte) (int, error) {
	return 0, ErrReadOnly
}

func (mmap *MMap) WriteAt([]byte, int64) (int, error) {
	return 0, ErrReadOnly
}

func (mmap *MMap) Truncate(int64) error {
	return ErrReadOnly
}

func (mmap *MMap) Sync() error {
	return ErrReadOnly
}

func (mmap *MMap) Close() error {
	return mmap.readerAt.Close()
}

func (mmap *MMap) Size() (int64, error) {
	return int64(mmap.readerAt.Len()), nil
}
