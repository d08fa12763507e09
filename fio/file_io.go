package fio

import (
	"os"

	"github.com/pkg/errors"
)

// FileIO 标准系统文件 IO
type FileIO struct {
	fd *os.File // 系统文件描述符
}

// NewFileIOManager 初始化标准文件 IO, 文件不存在时会自动创建
func NewFileIOManager(fileName string) (*FileIO, error) {
	// 不使用 O_APPEND, 否则 WriteAt 不可用, 追加写由调用方根据文件大小完成
	fd, err := os.OpenFile(fileName, os.O_CREATE|os.O_RDWR, DataFilePerm)
	if err != nil {
		return nil, errors.Wrapf(err, "open file %s", fileName)
	}
	return &FileIO{fd: fd}, nil
}

func (fio *FileIO) Read(b []byte, offset int64) (int, error) {
	return fio.fd.ReadAt(b, offset)
}

func (fio *FileIO) Write(b []byte) (int, error) {
	size, err := fio.Size()
	if err != nil {
		return 0, err
	}
	return fio.fd.WriteAt(b, size)
}

func (fio *FileIO) WriteAt(b []byte, offset int64) (int, error) {
	return fio.fd.WriteAt(b, offset)
}

func (fio *FileIO) Truncate(size int64) error {
	return fio.fd.Truncate(size)
}

func (fio *FileIO) Sync() error {
	return fio.fd.Sync()
}

func (fio *FileIO) Close() error {
	return fio.fd.Close()
}

func (fio *FileIO) Size() (int64, error) {
	stat, err := fio.fd.Stat()
	if err != nil {
		return 0, err
	}
	return stat.Size(), nil
}
