package fio

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMMap_Read(t *testing.T) {
	path := filepath.Join(os.TempDir(), "coda-mmap-0001.data")
	defer destroyFile(path)

	mmapIO, err := NewMMapIOManager(path)
	assert.Nil(t, err)

	// 文件为空
	b1 := make([]byte, 10)
	n1, err := mmapIO.Read(b1, 0)
	assert.Equal(t, 0, n1)
	assert.NotNil(t, err)
	assert.Nil(t, mmapIO.Close())

	fio, err := NewFileIOManager(path)
	assert.Nil(t, err)
	_, err = fio.Write([]byte("aa"))
	assert.Nil(t, err)
	_, err = fio.Write([]byte("bb"))
	assert.Nil(t, err)
	_, err = fio.Write([]byte("cc"))
	assert.Nil(t, err)

	// 新的视图能看到之前的写入
	mmapIO2, err := NewMMapIOManager(path)
	assert.Nil(t, err)
	defer mmapIO2.Close()

	size, err := mmapIO2.Size()
	assert.Nil(t, err)
	assert.Equal(t, int64(6), size)

	b2 := make([]byte, 2)
	n2, err := mmapIO2.Read(b2, 2)
	assert.Nil(t, err)
	assert.Equal(t, 2, n2)
	assert.Equal(t, "bb", string(b2))

	b3 := make([]byte, 4)
	n3, err := mmapIO2.Read(b3, 4)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 2, n3)
}

func TestMMap_ReadOnly(t *testing.T) {
	path := filepath.Join(os.TempDir(), "coda-mmap-0002.data")
	defer destroyFile(path)

	mmapIO, err := NewIOManager(path, MemoryMap)
	assert.Nil(t, err)
	defer mmapIO.Close()

	_, err = mmapIO.Write([]byte("a"))
	assert.Equal(t, ErrReadOnly, err)
	_, err = mmapIO.WriteAt([]byte("a"), 0)
	assert.Equal(t, ErrReadOnly, err)
	assert.Equal(t, ErrReadOnly, mmapIO.Sync())
}

func TestNewIOManager_Unsupported(t *testing.T) {
	_, err := NewIOManager(filepath.Join(os.TempDir(), "coda-never"), FileIOType(9))
	assert.Equal(t, ErrUnsupportedIOType, err)
}
