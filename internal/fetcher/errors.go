package fetcher

import (
	"fmt"

	"github.com/any-hub/modcache/internal/specifier"
)

// UnsupportedSchemeError 复用 specifier 包中的定义，便于调用方只依赖 fetcher。
type UnsupportedSchemeError = specifier.UnsupportedSchemeError

// NotFoundError 在 only 策略下缓存未命中时返回。
type NotFoundError struct {
	Specifier string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("specifier not found in cache: %q, --cached-only is specified", e.Specifier)
}

// PermissionDeniedError 表示远程拉取被配置禁止。
type PermissionDeniedError struct {
	Specifier string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("a remote specifier was requested: %q, but --no-remote is specified", e.Specifier)
}

// TooManyRedirectsError 表示重定向链（缓存或网络）超过上限。
type TooManyRedirectsError struct {
	Specifier string
	Limit     int
}

func (e *TooManyRedirectsError) Error() string {
	return fmt.Sprintf("too many redirects fetching %q (limit %d)", e.Specifier, e.Limit)
}

// HTTPStatusError 对应除 404 外的非 2xx 响应。
type HTTPStatusError struct {
	Specifier string
	Status    int
	Text      string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("fetch %q failed: %d %s", e.Specifier, e.Status, e.Text)
}

// BlobUnavailableError 表示 blob: URL 无法在当前进程内解析。
type BlobUnavailableError struct {
	Specifier string
}

func (e *BlobUnavailableError) Error() string {
	return fmt.Sprintf("blob specifier %q cannot be resolved: no object URL store is available", e.Specifier)
}
