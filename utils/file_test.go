package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirSize(t *testing.T) {
	dir, _ := os.MkdirTemp("", "coda-dir-size")
	defer os.RemoveAll(dir)

	size, err := DirSize(dir)
	assert.Nil(t, err)
	assert.Equal(t, int64(0), size)

	assert.Nil(t, os.WriteFile(filepath.Join(dir, "a.log"), make([]byte, 100), 0644))
	assert.Nil(t, os.MkdirAll(filepath.Join(dir, "orders-0"), os.ModePerm))
	assert.Nil(t, os.WriteFile(filepath.Join(dir, "orders-0", "b.index"), make([]byte, 32), 0644))

	size, err = DirSize(dir)
	assert.Nil(t, err)
	assert.Equal(t, int64(132), size)

	_, err = DirSize(filepath.Join(dir, "missing"))
	assert.NotNil(t, err)
}

func TestAvailableDiskSize(t *testing.T) {
	dir, _ := os.MkdirTemp("", "coda-disk-size")
	defer os.RemoveAll(dir)

	size, err := AvailableDiskSize(dir)
	assert.Nil(t, err)
	assert.True(t, size > 0)

	// 目录还没有创建时使用父目录所在的磁盘
	missing, err := AvailableDiskSize(filepath.Join(dir, "not", "created"))
	assert.Nil(t, err)
	assert.True(t, missing > 0)
}

func TestRandomValue(t *testing.T) {
	assert.Equal(t, []byte("coda-key-000000012"), GetTestKey(12))
	assert.Equal(t, len("coda-value-")+10, len(RandomValue(10)))

	records := TestRecords("x", 3)
	assert.Equal(t, 3, len(records))
	assert.Equal(t, []byte("x-key-2"), records[2].Key)
}
