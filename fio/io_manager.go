package fio

const DataFilePerm = 0644

type FileIOType = byte

const (
	// StandardFIO 标准文件 IO
	StandardFIO FileIOType = iota

	// MemoryMap 内存文件映射, 只读
	MemoryMap
)

// IOManager 抽象 IO 管理接口, 可以接入不同的 IO 类型, 目前支持标准文件 IO 和只读的内存映射
type IOManager interface {
	// Read 从文件给定位置读取数据
	Read([]byte, int64) (int, error)

	// Write 写入字节数组到文件末尾
	Write([]byte) (int, error)

	// WriteAt 写入字节数组到文件给定位置
	WriteAt([]byte, int64) (int, error)

	// Truncate 截断文件到指定大小
	Truncate(int64) error

	// Sync 内存缓冲区的数据持久化到磁盘中
	Sync() error

	// Close 关闭文件
	Close() error

	// Size 获取到文件大小
	Size() (int64, error)
}

// NewIOManager 初始化 IOManager, 目前支持标准 FileIO 和 MMap
func NewIOManager(fileName string, ioType FileIOType) (IOManager, error) {
	switch ioType {
	case StandardFIO:
		return NewFileIOManager(fileName)
	case MemoryMap:
		return NewMMapIOManager(fileName)
	default:
		return nil, ErrUnsupportedIOType
	}
}
