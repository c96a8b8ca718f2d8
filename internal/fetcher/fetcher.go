// Package fetcher 负责按 scheme 分发模块加载：本地文件直接读取，
// data/blob 在进程内解析，http/https 按缓存策略复用或下载并跟随重定向。
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/modcache/internal/auth"
	"github.com/any-hub/modcache/internal/cache"
	"github.com/any-hub/modcache/internal/httpcache"
	"github.com/any-hub/modcache/internal/logging"
	"github.com/any-hub/modcache/internal/specifier"
	"github.com/any-hub/modcache/internal/version"
)

// DefaultMaxRedirects 与 deno 保持一致。
const DefaultMaxRedirects = 10

// KindModule 是目前唯一的加载结果类型。
const KindModule = "module"

// LoadResponse 描述一次成功加载。Specifier 为跟随重定向后的最终地址。
type LoadResponse struct {
	Kind      string
	Specifier string
	Headers   httpcache.Headers
	Content   []byte
}

// BlobResolver 将 blob: URL 解析为头部与正文。
type BlobResolver interface {
	ResolveBlob(ctx context.Context, u *url.URL) (httpcache.Headers, []byte, error)
}

// BlobResolverFunc 允许以函数形式提供 BlobResolver。
type BlobResolverFunc func(ctx context.Context, u *url.URL) (httpcache.Headers, []byte, error)

func (fn BlobResolverFunc) ResolveBlob(ctx context.Context, u *url.URL) (httpcache.Headers, []byte, error) {
	return fn(ctx, u)
}

type unavailableBlobs struct{}

func (unavailableBlobs) ResolveBlob(_ context.Context, u *url.URL) (httpcache.Headers, []byte, error) {
	return httpcache.Headers{}, nil, &BlobUnavailableError{Specifier: u.String()}
}

// Options 汇总 Fetcher 的依赖。AllowRemote 为 false 时 http/https 请求直接拒绝。
type Options struct {
	Client       *http.Client
	HTTPCache    *httpcache.Cache
	Auth         *auth.Tokens
	Setting      CacheSetting
	AllowRemote  bool
	MaxRedirects int
	Logger       *logrus.Logger
	BlobResolver BlobResolver
}

// Fetcher 可被多个 goroutine 共享；成功结果在实例内记忆，同一 specifier 的并发请求会被合并。
type Fetcher struct {
	opts Options

	mu    sync.RWMutex
	memo  map[string]*LoadResponse
	group singleflight.Group
}

// New 校验依赖并填充默认值。
func New(opts Options) (*Fetcher, error) {
	if opts.HTTPCache == nil {
		return nil, errors.New("http cache is required")
	}
	if opts.Client == nil {
		opts.Client = &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
		opts.Logger.SetOutput(io.Discard)
	}
	if opts.BlobResolver == nil {
		opts.BlobResolver = unavailableBlobs{}
	}
	return &Fetcher{
		opts: opts,
		memo: make(map[string]*LoadResponse),
	}, nil
}

// Setting 返回当前缓存策略。
func (f *Fetcher) Setting() CacheSetting {
	return f.opts.Setting
}

// HTTPCache 返回底层 HTTP 缓存。
func (f *Fetcher) HTTPCache() *httpcache.Cache {
	return f.opts.HTTPCache
}

// WithSetting 返回共享依赖、但使用新策略与独立记忆表的 Fetcher。
func (f *Fetcher) WithSetting(setting CacheSetting) *Fetcher {
	opts := f.opts
	opts.Setting = setting
	return &Fetcher{opts: opts, memo: make(map[string]*LoadResponse)}
}

// Fetch 加载 u。返回 (nil, nil) 表示模块不存在（本地文件读取失败或上游 404）。
func (f *Fetcher) Fetch(ctx context.Context, u *url.URL) (*LoadResponse, error) {
	if u == nil {
		return nil, errors.New("specifier is nil")
	}
	u = specifier.Normalize(u)
	meta, err := specifier.Validate(u)
	if err != nil {
		return nil, err
	}

	key := u.String()
	if resp, ok := f.memoized(key); ok {
		return resp, nil
	}

	switch {
	case meta.Key == specifier.SchemeFile:
		return fetchLocal(u)
	case !meta.Remote:
		return f.fetchShared(ctx, key, func() (*LoadResponse, bool, error) {
			resp, err := f.fetchInline(ctx, u, meta.Key)
			return resp, false, err
		})
	case !f.opts.AllowRemote:
		return nil, &PermissionDeniedError{Specifier: key}
	default:
		return f.fetchShared(ctx, key, func() (*LoadResponse, bool, error) {
			return f.fetchRemote(ctx, u)
		})
	}
}

// fetchShared 通过 singleflight 合并并发请求，并在 Do 内部二次检查记忆表。
func (f *Fetcher) fetchShared(ctx context.Context, key string, load func() (*LoadResponse, bool, error)) (*LoadResponse, error) {
	value, err, _ := f.group.Do(key, func() (any, error) {
		if resp, ok := f.memoized(key); ok {
			return resp, nil
		}
		started := time.Now()
		resp, hit, err := load()
		f.logResult(key, hit, resp != nil, started, err)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			f.memoize(key, resp)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	resp, _ := value.(*LoadResponse)
	return resp, nil
}

func (f *Fetcher) memoized(key string) (*LoadResponse, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	resp, ok := f.memo[key]
	return resp, ok
}

func (f *Fetcher) memoize(key string, resp *LoadResponse) {
	f.mu.Lock()
	f.memo[key] = resp
	f.mu.Unlock()
}

// fetchInline 处理 data:/blob:，两者总是现场解析，不受缓存策略影响。
func (f *Fetcher) fetchInline(ctx context.Context, u *url.URL, scheme string) (*LoadResponse, error) {
	var (
		headers httpcache.Headers
		content []byte
	)
	if scheme == specifier.SchemeData {
		mediaType, body, err := decodeDataURL(u)
		if err != nil {
			return nil, err
		}
		headers = httpcache.NewHeaders("content-type", mediaType)
		content = body
	} else {
		resolved, body, err := f.opts.BlobResolver.ResolveBlob(ctx, u)
		if err != nil {
			return nil, err
		}
		headers = resolved.Clone()
		content = body
	}

	if err := f.opts.HTTPCache.Set(ctx, u, headers, content); err != nil {
		f.warnCacheSet(u, err)
	}
	return &LoadResponse{
		Kind:      KindModule,
		Specifier: u.String(),
		Headers:   headers,
		Content:   content,
	}, nil
}

// fetchRemote 依次尝试缓存与网络；每跟随一次重定向消耗一次预算。
func (f *Fetcher) fetchRemote(ctx context.Context, requested *url.URL) (*LoadResponse, bool, error) {
	current := requested
	budget := f.opts.MaxRedirects
	for {
		if budget < 0 {
			return nil, false, f.tooManyRedirects(requested)
		}
		if ShouldUseCache(f.opts.Setting, current) {
			resp, err := f.fetchCached(ctx, requested, current, budget)
			if err != nil {
				return nil, false, err
			}
			if resp != nil {
				return resp, true, nil
			}
		}
		if f.opts.Setting.Mode == ModeOnly {
			return nil, false, &NotFoundError{Specifier: current.String()}
		}

		resp, next, err := f.download(ctx, current)
		if err != nil {
			return nil, false, err
		}
		if next == nil {
			return resp, false, nil
		}
		current = specifier.Normalize(next)
		budget--
	}
}

// fetchCached 沿缓存中的 location 指针解析，缺失任一环节视为未命中。
func (f *Fetcher) fetchCached(ctx context.Context, requested, u *url.URL, budget int) (*LoadResponse, error) {
	current := u
	for {
		if budget < 0 {
			return nil, f.tooManyRedirects(requested)
		}
		entry, err := f.opts.HTTPCache.Get(ctx, current)
		if err != nil {
			if errors.Is(err, cache.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		target, isRedirect, err := entry.Location()
		if err != nil {
			return nil, err
		}
		if isRedirect {
			current = specifier.Normalize(target)
			budget--
			continue
		}
		return &LoadResponse{
			Kind:      KindModule,
			Specifier: current.String(),
			Headers:   entry.Headers,
			Content:   entry.Content,
		}, nil
	}
}

// download 发起一次请求。返回非空 next 表示上游要求跳转。
func (f *Fetcher) download(ctx context.Context, u *url.URL) (*LoadResponse, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request for %s: %w", u.String(), err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	cached, err := f.opts.HTTPCache.GetHeaders(ctx, u)
	switch {
	case err == nil:
		if etag := cached.Get("etag"); etag != "" {
			req.Header.Set("If-None-Match", etag)
		}
	case !errors.Is(err, cache.ErrNotFound):
		f.opts.Logger.WithError(err).WithFields(logrus.Fields{
			"action":    "fetch",
			"specifier": u.String(),
		}).Warn("cache_metadata_unreadable")
	}
	if token, ok := f.opts.Auth.Get(u); ok {
		req.Header.Set("Authorization", token)
	}

	fields := logging.FetchFields(u.String(), u.Scheme, false)
	fields["action"] = "download"
	f.opts.Logger.WithFields(fields).Info("download")

	resp, err := f.opts.Client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch %s: %w", u.String(), err)
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	switch {
	case status == http.StatusNotModified:
		_, _ = io.Copy(io.Discard, resp.Body)
		entry, err := f.opts.HTTPCache.Get(ctx, u)
		if err == nil && !entry.Headers.IsRedirect() {
			return &LoadResponse{
				Kind:      KindModule,
				Specifier: u.String(),
				Headers:   entry.Headers,
				Content:   entry.Content,
			}, nil, nil
		}
		if err != nil && !errors.Is(err, cache.ErrNotFound) {
			return nil, nil, err
		}
		return nil, nil, statusError(u, resp)
	case status >= 300 && status < 400 && resp.Header.Get("Location") != "":
		_, _ = io.Copy(io.Discard, resp.Body)
		target, err := u.Parse(resp.Header.Get("Location"))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid redirect location from %s: %w", u.String(), err)
		}
		if err := f.opts.HTTPCache.SetRedirect(ctx, u, target); err != nil {
			f.warnCacheSet(u, err)
		}
		return nil, target, nil
	case status == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil, nil
	case status < 200 || status >= 300:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil, statusError(u, resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response body from %s: %w", u.String(), err)
	}

	final := u
	if resp.Request != nil && resp.Request.URL != nil && resp.Request.URL.String() != u.String() {
		// 调用方提供的 client 可能自动跟随了跳转
		final = resp.Request.URL
		if err := f.opts.HTTPCache.SetRedirect(ctx, u, final); err != nil {
			f.warnCacheSet(u, err)
		}
	}

	headers := httpcache.FromHTTP(resp.Header)
	if err := f.opts.HTTPCache.Set(ctx, final, headers, body); err != nil {
		f.warnCacheSet(final, err)
	}
	return &LoadResponse{
		Kind:      KindModule,
		Specifier: final.String(),
		Headers:   headers,
		Content:   body,
	}, nil, nil
}

func (f *Fetcher) tooManyRedirects(requested *url.URL) error {
	return &TooManyRedirectsError{Specifier: requested.String(), Limit: f.opts.MaxRedirects}
}

func (f *Fetcher) warnCacheSet(u *url.URL, err error) {
	f.opts.Logger.WithError(err).WithFields(logrus.Fields{
		"action":    "cache_set",
		"specifier": u.String(),
	}).Warn("cache_set_failed")
}

func (f *Fetcher) logResult(key string, hit, found bool, started time.Time, err error) {
	scheme := ""
	if idx := strings.Index(key, ":"); idx > 0 {
		scheme = key[:idx]
	}
	fields := logging.FetchFields(key, scheme, hit)
	fields["action"] = "fetch"
	fields["found"] = found
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		f.opts.Logger.WithFields(fields).Error("fetch_failed")
		return
	}
	f.opts.Logger.WithFields(fields).Debug("fetch_complete")
}

func statusError(u *url.URL, resp *http.Response) error {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return &HTTPStatusError{Specifier: u.String(), Status: resp.StatusCode, Text: text}
}

// fetchLocal 读取本地文件；任何读取错误都视为模块不存在。
func fetchLocal(u *url.URL) (*LoadResponse, error) {
	local, err := specifier.LocalPath(u)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(local)
	if err != nil {
		return nil, nil
	}
	return &LoadResponse{
		Kind:      KindModule,
		Specifier: u.String(),
		Content:   stripHashbang(data),
	}, nil
}

// stripHashbang 去掉首行 #!，保留换行以维持行号。
func stripHashbang(data []byte) []byte {
	if len(data) < 2 || data[0] != '#' || data[1] != '!' {
		return data
	}
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		return []byte{}
	}
	return data[idx:]
}
