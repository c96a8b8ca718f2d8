package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/any-hub/modcache/internal/auth"
	"github.com/any-hub/modcache/internal/cache"
	"github.com/any-hub/modcache/internal/httpcache"
)

func newHTTPCache(t *testing.T) *httpcache.Cache {
	t.Helper()
	store, err := cache.NewStore(filepath.Join(t.TempDir(), "deps"))
	require.NoError(t, err)
	return httpcache.New(store, false)
}

func newFetcher(t *testing.T, opts Options) *Fetcher {
	t.Helper()
	if opts.HTTPCache == nil {
		opts.HTTPCache = newHTTPCache(t)
	}
	opts.AllowRemote = true
	f, err := New(opts)
	require.NoError(t, err)
	return f
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type upstream struct {
	server *httptest.Server
	hits   map[string]*int32
	mu     sync.Mutex
}

func newUpstream(t *testing.T, handler http.HandlerFunc) *upstream {
	t.Helper()
	u := &upstream{hits: make(map[string]*int32)}
	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		counter := u.hits[r.URL.Path]
		if counter == nil {
			counter = new(int32)
			u.hits[r.URL.Path] = counter
		}
		u.mu.Unlock()
		atomic.AddInt32(counter, 1)
		handler(w, r)
	}))
	t.Cleanup(u.server.Close)
	return u
}

func (u *upstream) count(path string) int32 {
	u.mu.Lock()
	defer u.mu.Unlock()
	if counter := u.hits[path]; counter != nil {
		return atomic.LoadInt32(counter)
	}
	return 0
}

func (u *upstream) url(t *testing.T, path string) *url.URL {
	return mustURL(t, u.server.URL+path)
}

func TestFetchCachesAndReloads(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", "v1")
		_, _ = w.Write([]byte("export const x=1;"))
	})
	httpCache := newHTTPCache(t)
	target := up.url(t, "/a.ts")

	first := newFetcher(t, Options{HTTPCache: httpCache, Setting: UseCache()})
	resp, err := first.Fetch(context.Background(), target)
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Equal(t, "export const x=1;", string(resp.Content))
	require.Equal(t, "v1", resp.Headers.Get("etag"))
	require.Equal(t, KindModule, resp.Kind)
	require.Equal(t, int32(1), up.count("/a.ts"))

	second := first.WithSetting(UseCache())
	resp, err = second.Fetch(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, "export const x=1;", string(resp.Content))
	require.Equal(t, int32(1), up.count("/a.ts"))

	reload := first.WithSetting(ReloadAll())
	_, err = reload.Fetch(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, int32(2), up.count("/a.ts"))
}

func TestFetchMemoizesWithinInstance(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("body"))
	})
	f := newFetcher(t, Options{Setting: ReloadAll()})
	target := up.url(t, "/m.ts")

	for i := 0; i < 3; i++ {
		resp, err := f.Fetch(context.Background(), target)
		require.NoError(t, err)
		require.Equal(t, "body", string(resp.Content))
	}
	require.Equal(t, int32(1), up.count("/m.ts"))
}

func TestFetchCollapsesConcurrentRequests(t *testing.T) {
	release := make(chan struct{})
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte("slow"))
	})
	f := newFetcher(t, Options{Setting: ReloadAll()})
	target := up.url(t, "/slow.ts")

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.Fetch(context.Background(), target)
			if err == nil && (resp == nil || string(resp.Content) != "slow") {
				err = errors.New("unexpected response")
			}
			errs <- err
		}()
	}
	for up.count("/slow.ts") == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), up.count("/slow.ts"))
}

func TestFetchPrefixListReloadsOnlyMatches(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.URL.Path))
	})
	httpCache := newHTTPCache(t)
	warm := newFetcher(t, Options{HTTPCache: httpCache, Setting: UseCache()})
	for _, p := range []string{"/x/a.ts", "/y/b.ts"} {
		_, err := warm.Fetch(context.Background(), up.url(t, p))
		require.NoError(t, err)
	}

	reload := warm.WithSetting(ReloadPrefixes(up.server.URL + "/x/"))
	for _, p := range []string{"/x/a.ts", "/y/b.ts"} {
		_, err := reload.Fetch(context.Background(), up.url(t, p))
		require.NoError(t, err)
	}
	require.Equal(t, int32(2), up.count("/x/a.ts"))
	require.Equal(t, int32(1), up.count("/y/b.ts"))
}

func TestFetchCachedOnlyMiss(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("never"))
	})
	f := newFetcher(t, Options{Setting: CachedOnly()})

	_, err := f.Fetch(context.Background(), up.url(t, "/missing.ts"))
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Contains(t, err.Error(), "/missing.ts")
	require.Equal(t, int32(0), up.count("/missing.ts"))
}

func TestFetchCachedOnlyHit(t *testing.T) {
	httpCache := newHTTPCache(t)
	target := mustURL(t, "https://cdn.test/a.ts")
	require.NoError(t, httpCache.Set(context.Background(), target, httpcache.NewHeaders("etag", "v1"), []byte("cached")))

	f := newFetcher(t, Options{HTTPCache: httpCache, Setting: CachedOnly()})
	resp, err := f.Fetch(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, "cached", string(resp.Content))
}

func TestFetchNotFoundIsAbsent(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	f := newFetcher(t, Options{})
	target := up.url(t, "/gone.ts")

	resp, err := f.Fetch(context.Background(), target)
	require.NoError(t, err)
	require.Nil(t, resp)

	// 不存在的结果不会被记忆
	_, err = f.Fetch(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, int32(2), up.count("/gone.ts"))
}

func TestFetchServerErrorReturnsStatusError(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	f := newFetcher(t, Options{})

	_, err := f.Fetch(context.Background(), up.url(t, "/boom.ts"))
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusInternalServerError, statusErr.Status)
	require.Equal(t, "Internal Server Error", statusErr.Text)
	require.Contains(t, err.Error(), "500")
}

func TestFetchCachedRedirectChainExceedsBudget(t *testing.T) {
	httpCache := newHTTPCache(t)
	a := mustURL(t, "https://cdn.test/a.ts")
	b := mustURL(t, "https://cdn.test/b.ts")
	c := mustURL(t, "https://cdn.test/c.ts")
	ctx := context.Background()
	require.NoError(t, httpCache.SetRedirect(ctx, a, b))
	require.NoError(t, httpCache.SetRedirect(ctx, b, c))
	require.NoError(t, httpCache.Set(ctx, c, httpcache.NewHeaders("content-type", "application/typescript"), []byte("c")))

	f := newFetcher(t, Options{HTTPCache: httpCache, Setting: UseCache(), MaxRedirects: 1})
	_, err := f.Fetch(ctx, a)
	var tooMany *TooManyRedirectsError
	require.ErrorAs(t, err, &tooMany)
	require.Equal(t, 1, tooMany.Limit)
	require.Equal(t, a.String(), tooMany.Specifier)

	ok := newFetcher(t, Options{HTTPCache: httpCache, Setting: UseCache(), MaxRedirects: 2})
	resp, err := ok.Fetch(ctx, a)
	require.NoError(t, err)
	require.Equal(t, c.String(), resp.Specifier)
	require.Equal(t, "c", string(resp.Content))
}

func TestFetchFollowsLiveRedirects(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a.ts":
			http.Redirect(w, r, "/b.ts", http.StatusFound)
		case "/b.ts":
			http.Redirect(w, r, "/c.ts", http.StatusMovedPermanently)
		default:
			_, _ = w.Write([]byte("final"))
		}
	})
	httpCache := newHTTPCache(t)
	f := newFetcher(t, Options{HTTPCache: httpCache})
	a := up.url(t, "/a.ts")

	resp, err := f.Fetch(context.Background(), a)
	require.NoError(t, err)
	require.Equal(t, up.server.URL+"/c.ts", resp.Specifier)
	require.Equal(t, "final", string(resp.Content))

	pointer, err := httpCache.Get(context.Background(), a)
	require.NoError(t, err)
	require.Equal(t, up.server.URL+"/b.ts", pointer.Headers.Get("location"))
	require.Empty(t, pointer.Content)

	// 重定向链已落盘，新的实例无需访问网络
	cached := f.WithSetting(UseCache())
	resp, err = cached.Fetch(context.Background(), a)
	require.NoError(t, err)
	require.Equal(t, up.server.URL+"/c.ts", resp.Specifier)
	require.Equal(t, int32(1), up.count("/a.ts"))
	require.Equal(t, int32(1), up.count("/c.ts"))
}

func TestFetchLiveRedirectsExceedBudget(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a.ts":
			http.Redirect(w, r, "/b.ts", http.StatusFound)
		case "/b.ts":
			http.Redirect(w, r, "/c.ts", http.StatusFound)
		default:
			_, _ = w.Write([]byte("final"))
		}
	})
	f := newFetcher(t, Options{MaxRedirects: 1})

	_, err := f.Fetch(context.Background(), up.url(t, "/a.ts"))
	var tooMany *TooManyRedirectsError
	require.ErrorAs(t, err, &tooMany)
	require.Equal(t, int32(0), up.count("/c.ts"))
}

func TestFetchAutoFollowingClientStoresRedirectPointer(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old.ts" {
			http.Redirect(w, r, "/new.ts", http.StatusFound)
			return
		}
		_, _ = w.Write([]byte("new"))
	})
	httpCache := newHTTPCache(t)
	f := newFetcher(t, Options{HTTPCache: httpCache, Client: up.server.Client()})

	resp, err := f.Fetch(context.Background(), up.url(t, "/old.ts"))
	require.NoError(t, err)
	require.Equal(t, up.server.URL+"/new.ts", resp.Specifier)

	pointer, err := httpCache.Get(context.Background(), up.url(t, "/old.ts"))
	require.NoError(t, err)
	require.Equal(t, up.server.URL+"/new.ts", pointer.Headers.Get("location"))
}

func TestFetchSendsConditionalAndAuthHeaders(t *testing.T) {
	var (
		mu            sync.Mutex
		ifNoneMatch   []string
		authorization []string
	)
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ifNoneMatch = append(ifNoneMatch, r.Header.Get("If-None-Match"))
		authorization = append(authorization, r.Header.Get("Authorization"))
		mu.Unlock()
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte("fresh"))
	})
	host := mustURL(t, up.server.URL).Hostname()
	tokens := auth.Parse(host+"@secret", nil)
	httpCache := newHTTPCache(t)
	f := newFetcher(t, Options{HTTPCache: httpCache, Auth: tokens, Setting: ReloadAll()})
	target := up.url(t, "/cond.ts")

	resp, err := f.Fetch(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, "fresh", string(resp.Content))

	again := f.WithSetting(ReloadAll())
	resp, err = again.Fetch(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, "fresh", string(resp.Content), "304 应返回缓存内容")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"", `"v1"`}, ifNoneMatch)
	require.Equal(t, []string{"Bearer secret", "Bearer secret"}, authorization)
}

func TestFetchRemoteDisabled(t *testing.T) {
	f, err := New(Options{HTTPCache: newHTTPCache(t)})
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), mustURL(t, "https://cdn.test/a.ts"))
	var denied *PermissionDeniedError
	require.ErrorAs(t, err, &denied)
	require.Contains(t, err.Error(), "https://cdn.test/a.ts")
}

func TestFetchUnsupportedScheme(t *testing.T) {
	f := newFetcher(t, Options{})
	_, err := f.Fetch(context.Background(), mustURL(t, "ftp://example.com/a.ts"))
	var unsupported *UnsupportedSchemeError
	require.ErrorAs(t, err, &unsupported)
	require.Equal(t, "ftp:", unsupported.Scheme)
}

func TestFetchLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.ts")
	require.NoError(t, os.WriteFile(path, []byte("#!/usr/bin/env deno\nconsole.log(1);\n"), 0o644))
	f := newFetcher(t, Options{})

	resp, err := f.Fetch(context.Background(), &url.URL{Scheme: "file", Path: filepath.ToSlash(path)})
	require.NoError(t, err)
	require.Equal(t, "\nconsole.log(1);\n", string(resp.Content))

	resp, err = f.Fetch(context.Background(), &url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(dir, "missing.ts"))})
	require.NoError(t, err)
	require.Nil(t, resp)
}

func TestFetchDataURL(t *testing.T) {
	httpCache := newHTTPCache(t)
	f := newFetcher(t, Options{HTTPCache: httpCache, Setting: CachedOnly()})

	target := mustURL(t, "data:application/typescript;base64,ZXhwb3J0IGNvbnN0IGEgPSAxOw==")
	resp, err := f.Fetch(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, "export const a = 1;", string(resp.Content))
	require.Equal(t, "application/typescript", resp.Headers.Get("content-type"))

	entry, err := httpCache.Get(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, "export const a = 1;", string(entry.Content))

	plain, err := f.Fetch(context.Background(), mustURL(t, "data:,hello%20world"))
	require.NoError(t, err)
	require.Equal(t, "hello world", string(plain.Content))
	require.Equal(t, defaultDataMediaType, plain.Headers.Get("content-type"))
}

func TestFetchBlobURL(t *testing.T) {
	f := newFetcher(t, Options{})
	_, err := f.Fetch(context.Background(), mustURL(t, "blob:https://deno.land/1234"))
	var unavailable *BlobUnavailableError
	require.ErrorAs(t, err, &unavailable)

	resolved := newFetcher(t, Options{BlobResolver: BlobResolverFunc(func(_ context.Context, u *url.URL) (httpcache.Headers, []byte, error) {
		return httpcache.NewHeaders("Content-Type", "text/javascript"), []byte("blob body"), nil
	})})
	resp, err := resolved.Fetch(context.Background(), mustURL(t, "blob:https://deno.land/1234"))
	require.NoError(t, err)
	require.Equal(t, "blob body", string(resp.Content))
	require.Equal(t, "text/javascript", resp.Headers.Get("content-type"))
}

func TestNewRequiresHTTPCache(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestStripHashbang(t *testing.T) {
	require.Equal(t, "plain", string(stripHashbang([]byte("plain"))))
	require.Equal(t, "\nbody", string(stripHashbang([]byte("#!/bin/sh\nbody"))))
	require.Empty(t, stripHashbang([]byte("#!only")))
}

func TestFetchNormalizesEquivalentSpecifiers(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("normalized"))
	})
	f := newFetcher(t, Options{Setting: UseCache()})

	dotted := mustURL(t, up.server.URL+"/x/../mod.ts")
	resp, err := f.Fetch(context.Background(), dotted)
	require.NoError(t, err)
	require.Equal(t, up.server.URL+"/mod.ts", resp.Specifier)
	require.Equal(t, int32(1), up.count("/mod.ts"))
	require.Equal(t, int32(0), up.count("/x/../mod.ts"))

	again, err := f.Fetch(context.Background(), up.url(t, "/mod.ts"))
	require.NoError(t, err)
	require.Same(t, resp, again)
	require.Equal(t, int32(1), up.count("/mod.ts"))
}
