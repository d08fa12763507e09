package utils

import (
	"io/fs"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
)

// DirSize 统计数据目录下所有 segment 和索引文件的总字节数
func DirSize(dirPath string) (int64, error) {
	var size int64
	err := filepath.WalkDir(dirPath, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		return nil
	})
	return size, errors.Wrapf(err, "walk %s", dirPath)
}

// AvailableDiskSize 数据目录所在磁盘的剩余空间, 字节为单位
// 目录还不存在时向上查找最近的已存在的父目录
func AvailableDiskSize(dirPath string) (uint64, error) {
	dir, err := filepath.Abs(dirPath)
	if err != nil {
		return 0, errors.Wrapf(err, "resolve %s", dirPath)
	}
	var stat syscall.Statfs_t
	for {
		err = syscall.Statfs(dir, &stat)
		if err == nil {
			return stat.Bavail * uint64(stat.Bsize), nil
		}
		parent := filepath.Dir(dir)
		if err != syscall.ENOENT || parent == dir {
			return 0, errors.Wrapf(err, "statfs %s", dir)
		}
		dir = parent
	}
}
