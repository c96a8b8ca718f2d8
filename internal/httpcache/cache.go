package httpcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/any-hub/modcache/internal/cache"
	"github.com/any-hub/modcache/internal/specifier"
)

const metadataSuffix = ".metadata.json"

// Entry 表示一次缓存命中：URL、头部与完整正文。
type Entry struct {
	URL     string
	Headers Headers
	Content []byte
}

// Location 返回重定向指针的目标（已按 Entry.URL 解析为绝对地址）。
func (e *Entry) Location() (*url.URL, bool, error) {
	raw, ok := e.Headers.Lookup("location")
	if !ok {
		return nil, false, nil
	}
	base, err := url.Parse(e.URL)
	if err != nil {
		return nil, true, fmt.Errorf("invalid cached url %q: %w", e.URL, err)
	}
	target, err := base.Parse(raw)
	if err != nil {
		return nil, true, fmt.Errorf("invalid location %q for %s: %w", raw, e.URL, err)
	}
	return target, true, nil
}

// Metadata 对应 *.metadata.json 的内容。
type Metadata struct {
	Headers Headers `json:"headers"`
	URL     string  `json:"url"`
}

// Cache 是 deps 目录之上的逻辑视图，本身无状态。
type Cache struct {
	store    cache.Store
	readOnly bool
}

// New 基于 store 构建 HTTP 缓存；readOnly 为 true 时 Set 不落盘。
func New(store cache.Store, readOnly bool) *Cache {
	return &Cache{store: store, readOnly: readOnly}
}

// ReadOnly 返回当前是否为只读模式。
func (c *Cache) ReadOnly() bool {
	return c.readOnly
}

// Store 返回底层磁盘存储。
func (c *Cache) Store() cache.Store {
	return c.store
}

// CacheFilename 返回 u 的正文文件绝对路径，与 Get/Set 使用同一套映射规则。
func (c *Cache) CacheFilename(u *url.URL) (string, error) {
	key, err := cacheKey(u)
	if err != nil {
		return "", err
	}
	return c.store.Path(key)
}

// MetadataFilename 返回 u 的 metadata 文件绝对路径。
func (c *Cache) MetadataFilename(u *url.URL) (string, error) {
	key, err := cacheKey(u)
	if err != nil {
		return "", err
	}
	return c.store.Path(metadataKey(key))
}

// Get 读取正文与头部；正文不存在时返回 cache.ErrNotFound。
// location 头部不会被跟随。
func (c *Cache) Get(ctx context.Context, u *url.URL) (*Entry, error) {
	key, err := cacheKey(u)
	if err != nil {
		return nil, err
	}
	content, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	meta, err := c.readMetadata(ctx, key)
	if err != nil {
		return nil, err
	}
	entryURL := meta.URL
	if entryURL == "" {
		entryURL = u.String()
	}
	return &Entry{URL: entryURL, Headers: meta.Headers, Content: content}, nil
}

// GetHeaders 仅读取头部（用于 etag 等条件请求），正文不存在时返回 cache.ErrNotFound。
func (c *Cache) GetHeaders(ctx context.Context, u *url.URL) (Headers, error) {
	key, err := cacheKey(u)
	if err != nil {
		return Headers{}, err
	}
	if !c.store.Exists(key) {
		return Headers{}, cache.ErrNotFound
	}
	meta, err := c.readMetadata(ctx, key)
	if err != nil {
		return Headers{}, err
	}
	return meta.Headers, nil
}

// Set 先写正文再写 metadata，保证读到 metadata 时正文一定已存在。
func (c *Cache) Set(ctx context.Context, u *url.URL, headers Headers, content []byte) error {
	if c.readOnly {
		return nil
	}
	key, err := cacheKey(u)
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, key, content); err != nil {
		return fmt.Errorf("write cache content: %w", err)
	}

	payload, err := json.MarshalIndent(Metadata{Headers: headers, URL: u.String()}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache metadata: %w", err)
	}
	if err := c.store.Set(ctx, metadataKey(key), payload); err != nil {
		return fmt.Errorf("write cache metadata: %w", err)
	}
	return nil
}

// SetRedirect 写入一个只含 location 的重定向指针。
func (c *Cache) SetRedirect(ctx context.Context, from, to *url.URL) error {
	return c.Set(ctx, from, NewHeaders("location", to.String()), nil)
}

// Remove 删除正文与 metadata；先删 metadata，避免留下悬空 sidecar。
func (c *Cache) Remove(ctx context.Context, u *url.URL) error {
	key, err := cacheKey(u)
	if err != nil {
		return err
	}
	if err := c.store.Remove(ctx, metadataKey(key)); err != nil {
		return err
	}
	return c.store.Remove(ctx, key)
}

func (c *Cache) readMetadata(ctx context.Context, key string) (Metadata, error) {
	raw, err := c.store.Get(ctx, metadataKey(key))
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			// 正文已写入但 metadata 尚未落盘，视为未命中
			return Metadata{}, cache.ErrNotFound
		}
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("decode cache metadata %s: %w", metadataKey(key), err)
	}
	return meta, nil
}

func cacheKey(u *url.URL) (string, error) {
	if u == nil {
		return "", errors.New("specifier is nil")
	}
	return specifier.CacheFilename(u)
}

// metadataKey 若文件名带扩展名则替换为 .metadata.json，否则直接追加。
func metadataKey(key string) string {
	base := path.Base(key)
	if ext := filepath.Ext(base); ext != "" && ext != base {
		return strings.TrimSuffix(key, ext) + metadataSuffix
	}
	return key + metadataSuffix
}
