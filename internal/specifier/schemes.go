package specifier

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// SchemeMetadata 记录一个 scheme 的静态信息，供 fetcher 分派与诊断端使用。
type SchemeMetadata struct {
	Key         string `json:"key"`
	Description string `json:"description"`
	// Remote 表示需要网络访问，受 AllowRemote 开关约束。
	Remote bool `json:"remote"`
	// PolicyApplies 表示是否按 CacheSetting 决定复用缓存。
	PolicyApplies bool `json:"policy_applies"`
	// Hashed 表示磁盘路径使用 sha256(path+query)，否则按本地路径展开。
	Hashed bool `json:"hashed"`
}

const (
	SchemeFile  = "file"
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeData  = "data"
	SchemeBlob  = "blob"
)

var globalRegistry = newRegistry()

func init() {
	globalRegistry.mustRegister(SchemeMetadata{
		Key:         SchemeFile,
		Description: "本地文件，直接读取，不写入缓存",
	})
	globalRegistry.mustRegister(SchemeMetadata{
		Key:           SchemeHTTP,
		Description:   "远程模块，按 CacheSetting 复用 deps 缓存",
		Remote:        true,
		PolicyApplies: true,
		Hashed:        true,
	})
	globalRegistry.mustRegister(SchemeMetadata{
		Key:           SchemeHTTPS,
		Description:   "远程模块，按 CacheSetting 复用 deps 缓存",
		Remote:        true,
		PolicyApplies: true,
		Hashed:        true,
	})
	globalRegistry.mustRegister(SchemeMetadata{
		Key:         SchemeData,
		Description: "data URL，进程内解码后写入 deps 缓存",
		Hashed:      true,
	})
	globalRegistry.mustRegister(SchemeMetadata{
		Key:         SchemeBlob,
		Description: "blob URL，通过 BlobResolver 解析后写入 deps 缓存",
		Hashed:      true,
	})
}

type registry struct {
	mu      sync.RWMutex
	schemes map[string]SchemeMetadata
}

func newRegistry() *registry {
	return &registry{schemes: make(map[string]SchemeMetadata)}
}

// Resolve 返回指定 scheme 的元数据，key 不区分大小写且可带结尾冒号。
func Resolve(key string) (SchemeMetadata, bool) {
	return globalRegistry.resolve(key)
}

// List 返回按 key 排序的 scheme 元数据列表。
func List() []SchemeMetadata {
	return globalRegistry.list()
}

// Keys 返回所有已注册 scheme，带结尾冒号，便于错误信息展示。
func Keys() []string {
	items := List()
	result := make([]string, len(items))
	for i, meta := range items {
		result[i] = meta.Key + ":"
	}
	return result
}

func (r *registry) normalizeKey(key string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(key)), ":")
}

func (r *registry) register(meta SchemeMetadata) error {
	key := r.normalizeKey(meta.Key)
	if key == "" {
		return fmt.Errorf("scheme key is required")
	}
	meta.Key = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemes[key]; exists {
		return fmt.Errorf("scheme %s already registered", key)
	}
	r.schemes[key] = meta
	return nil
}

func (r *registry) mustRegister(meta SchemeMetadata) {
	if err := r.register(meta); err != nil {
		panic(err)
	}
}

func (r *registry) resolve(key string) (SchemeMetadata, bool) {
	normalized := r.normalizeKey(key)
	if normalized == "" {
		return SchemeMetadata{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, ok := r.schemes[normalized]
	return meta, ok
}

func (r *registry) list() []SchemeMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.schemes))
	for key := range r.schemes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]SchemeMetadata, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.schemes[key])
	}
	return result
}
