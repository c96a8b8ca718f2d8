package cache

import (
	"context"
	"errors"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<Location>/<key>    # key 为 "/" 分隔的相对路径
//
// 读取不存在的 key 返回 ErrNotFound，这是空缓存的正常结果而非故障。
type Store interface {
	// Get 读取 key 对应的全部字节。不存在或是目录时返回 ErrNotFound。
	Get(ctx context.Context, key string) ([]byte, error)

	// Set 写入 key，必要时创建父目录。实现需通过临时文件 + rename 保证写入原子性。
	Set(ctx context.Context, key string, data []byte) error

	// Remove 删除 key，不存在时视为成功。
	Remove(ctx context.Context, key string) error

	// Exists 同步探测 key 是否为普通文件，供诊断接口使用。
	Exists(key string) bool

	// Path 返回 key 的绝对路径，拒绝逃逸出根目录的 key。
	Path(key string) (string, error)

	// Location 返回缓存根目录的绝对路径。
	Location() string
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrInvalidKey 表示 key 为空或指向根目录之外。
var ErrInvalidKey = errors.New("invalid cache key")
