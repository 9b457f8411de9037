package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<StoragePath>/<key>    # 实际正文，key 使用 / 分隔
//
// 条目写入后永不过期，文件的 ModTime/Size 由文件系统提供。
type Store interface {
	// Locate 规范化原始资源标识并计算绝对路径。逃逸出存储根目录的 key 返回 ErrInvalidKey。
	Locate(raw string) (Locator, error)

	// Probe 检查条目是否已在磁盘上，允许文件名大小写与请求不一致，返回实际路径。
	Probe(locator Locator) (string, bool)

	// Read 读取指定绝对路径的完整正文。文件不存在时返回 ErrNotFound。
	Read(ctx context.Context, filePath string) ([]byte, error)

	// Put 将正文写入缓存。实现需通过临时文件 + rename 保证写入原子性，并在失败时清理临时文件。
	Put(ctx context.Context, locator Locator, body io.Reader) (*Entry, error)

	// Root 返回存储根目录的绝对路径。
	Root() string
}

// Locator 唯一定位一个缓存条目：Key 为规范化后的相对路径，Path 为拼接存储根目录后的绝对路径。
type Locator struct {
	Key  string
	Path string
}

// Entry 表示一次写入结果，包含绝对文件路径及文件信息。
type Entry struct {
	Locator   Locator   `json:"locator"`
	FilePath  string    `json:"file_path"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidKey 表示 key 解析后的路径不在存储根目录内。
	ErrInvalidKey = errors.New("invalid cache key")
)
