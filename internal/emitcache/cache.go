// Package emitcache 在 gen 目录下保存编译派生产物（声明、产物 JS、source map、
// buildinfo 与版本哈希），文件名由源 specifier 的缓存路径加扩展名得到。
package emitcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sync"

	"github.com/any-hub/modcache/internal/cache"
	"github.com/any-hub/modcache/internal/fetcher"
	"github.com/any-hub/modcache/internal/httpcache"
	"github.com/any-hub/modcache/internal/specifier"
)

const versionField = "version_hash"

// Loader 加载源模块，通常由 fetcher.Fetcher 实现。
type Loader interface {
	Fetch(ctx context.Context, u *url.URL) (*fetcher.LoadResponse, error)
}

// Info 描述某个 specifier 在磁盘上的缓存文件，字段为空表示文件不存在。
type Info struct {
	Local string `json:"local,omitempty"`
	Emit  string `json:"emit,omitempty"`
	Map   string `json:"map,omitempty"`
}

// Cache 组合 gen 存储与 deps HTTP 缓存。
type Cache struct {
	gen      cache.Store
	deps     *httpcache.Cache
	loader   Loader
	readOnly bool

	mu    sync.Mutex
	locks map[string]*specLock
}

type specLock struct {
	mu   sync.Mutex
	refs int
}

// New 构建派生产物缓存；readOnly 为 true 时 Set 不落盘且 CacheInfo 返回空值。
func New(gen cache.Store, deps *httpcache.Cache, loader Loader, readOnly bool) *Cache {
	return &Cache{
		gen:      gen,
		deps:     deps,
		loader:   loader,
		readOnly: readOnly,
		locks:    make(map[string]*specLock),
	}
}

// Get 读取指定类型的产物，缺失时返回 cache.ErrNotFound。
func (c *Cache) Get(ctx context.Context, kind Kind, u *url.URL) ([]byte, error) {
	ext, err := kind.Extension()
	if err != nil {
		return nil, err
	}
	key, err := specifier.CacheFilenameWithExtension(u, ext)
	if err != nil {
		return nil, err
	}
	if kind != KindVersion {
		return c.gen.Get(ctx, key)
	}

	meta, err := c.readMeta(ctx, key)
	if err != nil {
		return nil, err
	}
	raw, ok := meta[versionField]
	if !ok {
		return nil, cache.ErrNotFound
	}
	var version string
	if err := json.Unmarshal(raw, &version); err != nil {
		return nil, fmt.Errorf("decode %s in %s: %w", versionField, key, err)
	}
	return []byte(version), nil
}

// Set 写入指定类型的产物。version 会合并进已有 sidecar，保留其他字段。
func (c *Cache) Set(ctx context.Context, kind Kind, u *url.URL, value []byte) error {
	ext, err := kind.Extension()
	if err != nil {
		return err
	}
	if c.readOnly {
		return nil
	}
	key, err := specifier.CacheFilenameWithExtension(u, ext)
	if err != nil {
		return err
	}
	if kind != KindVersion {
		return c.gen.Set(ctx, key, value)
	}

	// 同一 specifier 的读改写在进程内串行执行
	unlock := c.lockSpecifier(u.String())
	defer unlock()

	meta, err := c.readMeta(ctx, key)
	if err != nil && !errors.Is(err, cache.ErrNotFound) {
		return err
	}
	if meta == nil {
		meta = make(map[string]json.RawMessage)
	}
	encoded, err := json.Marshal(string(value))
	if err != nil {
		return err
	}
	meta[versionField] = encoded

	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.gen.Set(ctx, key, payload)
}

// CacheInfo 同步返回源文件、产物 JS 与 source map 的绝对路径。
func (c *Cache) CacheInfo(u *url.URL) Info {
	if c.readOnly || u == nil {
		return Info{}
	}
	var info Info
	if local := c.localPath(u); local != "" && isFile(local) {
		info.Local = local
	}
	info.Emit = c.genPath(u, kindExtensions[KindEmit])
	info.Map = c.genPath(u, kindExtensions[KindSourceMap])
	return info
}

// Load 通过 Loader 加载源模块。
func (c *Cache) Load(ctx context.Context, u *url.URL) (*fetcher.LoadResponse, error) {
	if c.loader == nil {
		return nil, errors.New("no module loader configured")
	}
	return c.loader.Fetch(ctx, u)
}

// ReadOnly 返回当前是否为只读模式。
func (c *Cache) ReadOnly() bool {
	return c.readOnly
}

func (c *Cache) localPath(u *url.URL) string {
	if meta, err := specifier.Validate(u); err == nil && meta.Key == specifier.SchemeFile {
		local, err := specifier.LocalPath(u)
		if err != nil {
			return ""
		}
		return local
	}
	if c.deps == nil {
		return ""
	}
	local, err := c.deps.CacheFilename(u)
	if err != nil {
		return ""
	}
	return local
}

func (c *Cache) genPath(u *url.URL, ext string) string {
	key, err := specifier.CacheFilenameWithExtension(u, ext)
	if err != nil || !c.gen.Exists(key) {
		return ""
	}
	full, err := c.gen.Path(key)
	if err != nil {
		return ""
	}
	return full
}

func (c *Cache) readMeta(ctx context.Context, key string) (map[string]json.RawMessage, error) {
	raw, err := c.gen.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var meta map[string]json.RawMessage
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return meta, nil
}

func (c *Cache) lockSpecifier(key string) func() {
	c.mu.Lock()
	lock := c.locks[key]
	if lock == nil {
		lock = &specLock{}
		c.locks[key] = lock
	}
	lock.refs++
	c.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		c.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(c.locks, key)
		}
		c.mu.Unlock()
	}
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
