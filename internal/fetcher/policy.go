package fetcher

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/any-hub/modcache/internal/specifier"
)

// CacheMode 对应 --cached-only / 默认 / --reload 三种整体策略。
type CacheMode string

const (
	ModeOnly      CacheMode = "only"
	ModeUse       CacheMode = "use"
	ModeReloadAll CacheMode = "reloadAll"
)

// CacheSetting 决定远程模块是否复用已缓存内容。Prefixes 非空时表示
// 仅重新拉取以这些前缀开头的 specifier，其余一律复用缓存。
type CacheSetting struct {
	Mode     CacheMode
	Prefixes []string
}

// UseCache 是默认策略。
func UseCache() CacheSetting { return CacheSetting{Mode: ModeUse} }

// CachedOnly 只读缓存，未命中即报错。
func CachedOnly() CacheSetting { return CacheSetting{Mode: ModeOnly} }

// ReloadAll 忽略缓存，总是重新下载。
func ReloadAll() CacheSetting { return CacheSetting{Mode: ModeReloadAll} }

// ReloadPrefixes 仅重新下载匹配前缀的 specifier。
func ReloadPrefixes(prefixes ...string) CacheSetting {
	list := make([]string, 0, len(prefixes))
	return CacheSetting{Prefixes: append(list, prefixes...)}
}

// ParseCacheSetting 接受 "only"/"use"/"reloadAll" 或前缀字符串数组。
func ParseCacheSetting(value any) (CacheSetting, error) {
	switch v := value.(type) {
	case nil:
		return UseCache(), nil
	case CacheSetting:
		return v, nil
	case string:
		switch CacheMode(strings.TrimSpace(v)) {
		case ModeOnly:
			return CachedOnly(), nil
		case ModeUse, "":
			return UseCache(), nil
		case ModeReloadAll:
			return ReloadAll(), nil
		}
		return CacheSetting{}, fmt.Errorf("invalid cache setting %q, expected only, use, reloadAll or a list of prefixes", v)
	case []string:
		return ReloadPrefixes(v...), nil
	case []any:
		prefixes := make([]string, 0, len(v))
		for idx, item := range v {
			str, ok := item.(string)
			if !ok {
				return CacheSetting{}, fmt.Errorf("invalid cache setting prefix at index %d: %v", idx, item)
			}
			prefixes = append(prefixes, str)
		}
		return ReloadPrefixes(prefixes...), nil
	default:
		return CacheSetting{}, fmt.Errorf("invalid cache setting type %T", value)
	}
}

// IsPrefixList 表示当前策略为前缀列表。
func (s CacheSetting) IsPrefixList() bool {
	return s.Mode == "" && s.Prefixes != nil
}

func (s CacheSetting) String() string {
	if s.IsPrefixList() {
		return "[" + strings.Join(s.Prefixes, ",") + "]"
	}
	if s.Mode == "" {
		return string(ModeUse)
	}
	return string(s.Mode)
}

// ShouldUseCache 判断 u 是否可以直接使用缓存。
func ShouldUseCache(setting CacheSetting, u *url.URL) bool {
	switch setting.Mode {
	case ModeOnly, ModeUse:
		return true
	case ModeReloadAll:
		return false
	}
	target := specifier.Normalize(u).String()
	for _, prefix := range setting.Prefixes {
		if strings.HasPrefix(target, prefix) {
			return false
		}
	}
	return true
}

// SettingFromReload 将 --reload / ?reload= 的取值转换为策略：
// 空串沿用 base，true/all 表示全部重新拉取，其余按逗号拆分为前缀列表。
func SettingFromReload(raw string, base CacheSetting) CacheSetting {
	value := strings.TrimSpace(raw)
	switch strings.ToLower(value) {
	case "":
		return base
	case "true", "all", "1":
		return ReloadAll()
	case "false", "0":
		return base
	}
	var prefixes []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			prefixes = append(prefixes, part)
		}
	}
	if len(prefixes) == 0 {
		return base
	}
	return ReloadPrefixes(prefixes...)
}
