// Package denodir 解析缓存根目录并组装 deps/gen 两个存储。
package denodir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/any-hub/modcache/internal/cache"
	"github.com/any-hub/modcache/internal/emitcache"
	"github.com/any-hub/modcache/internal/httpcache"
)

// EnvVar 指定缓存根目录的环境变量。
const EnvVar = "DENO_DIR"

// ReadOnlyMode 控制只读模式的判定方式。
type ReadOnlyMode string

const (
	ReadOnlyAuto ReadOnlyMode = "auto"
	ReadOnlyOn   ReadOnlyMode = "true"
	ReadOnlyOff  ReadOnlyMode = "false"
)

// ParseReadOnlyMode 接受 auto/true/false，空值视为 auto。
func ParseReadOnlyMode(raw string) (ReadOnlyMode, error) {
	switch mode := ReadOnlyMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case "", ReadOnlyAuto:
		return ReadOnlyAuto, nil
	case ReadOnlyOn, ReadOnlyOff:
		return mode, nil
	default:
		return "", fmt.Errorf("invalid read-only mode %q, expected auto, true or false", raw)
	}
}

// Dir 表示一个已解析的缓存根目录。
type Dir struct {
	Root     string
	ReadOnly bool
	Deps     *httpcache.Cache
	Gen      cache.Store
}

// ResolveRoot 按 explicit > $DENO_DIR > 用户缓存目录/deno > $HOME/.deno 的顺序确定根目录。
func ResolveRoot(explicit string) (string, error) {
	root := strings.TrimSpace(explicit)
	if root == "" {
		root = strings.TrimSpace(os.Getenv(EnvVar))
	}
	if root == "" {
		if dir, err := os.UserCacheDir(); err == nil && dir != "" {
			root = filepath.Join(dir, "deno")
		} else if home, err := os.UserHomeDir(); err == nil && home != "" {
			root = filepath.Join(home, ".deno")
		}
	}
	if root == "" {
		return "", errors.New("could not determine the cache root directory")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve cache root %q: %w", root, err)
	}
	return abs, nil
}

// New 在返回前完成只读判定，之后 Dir 的状态不再变化。
func New(root string, mode ReadOnlyMode) (*Dir, error) {
	if root == "" || !filepath.IsAbs(root) {
		return nil, fmt.Errorf("the root directory %q is not absolute", root)
	}
	readOnly := false
	switch mode {
	case ReadOnlyOn:
		readOnly = true
	case ReadOnlyOff:
	case ReadOnlyAuto, "":
		readOnly = !probeWritable(root)
	default:
		return nil, fmt.Errorf("invalid read-only mode %q", mode)
	}

	depsStore, err := cache.NewStore(filepath.Join(root, "deps"))
	if err != nil {
		return nil, err
	}
	gen, err := cache.NewStore(filepath.Join(root, "gen"))
	if err != nil {
		return nil, err
	}
	return &Dir{
		Root:     root,
		ReadOnly: readOnly,
		Deps:     httpcache.New(depsStore, readOnly),
		Gen:      gen,
	}, nil
}

// Artifacts 基于 gen/deps 构建派生产物缓存。
func (d *Dir) Artifacts(loader emitcache.Loader) *emitcache.Cache {
	return emitcache.New(d.Gen, d.Deps, loader, d.ReadOnly)
}

// probeWritable 尝试在根目录创建并删除临时文件。
func probeWritable(root string) bool {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return false
	}
	f, err := os.CreateTemp(root, ".probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}
