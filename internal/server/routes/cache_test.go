package routes

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/modcache/internal/denodir"
	"github.com/any-hub/modcache/internal/fetcher"
	"github.com/any-hub/modcache/internal/server"
)

type testEnv struct {
	app      *fiber.App
	upstream *httptest.Server
	hits     *int32
}

func newTestEnv(t *testing.T, allowRemote bool) *testEnv {
	t.Helper()

	hits := new(int32)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		switch r.URL.Path {
		case "/mod.ts":
			w.Header().Set("Content-Type", "application/typescript")
			_, _ = w.Write([]byte("export const a = 1;"))
		case "/broken.ts":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(upstream.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	dir, err := denodir.New(t.TempDir(), denodir.ReadOnlyOff)
	require.NoError(t, err)

	f, err := fetcher.New(fetcher.Options{
		HTTPCache:   dir.Deps,
		Setting:     fetcher.UseCache(),
		AllowRemote: allowRemote,
		Logger:      logger,
	})
	require.NoError(t, err)

	app, err := server.NewApp(server.AppOptions{Logger: logger, ListenPort: 5000})
	require.NoError(t, err)
	RegisterCacheRoutes(app, Dependencies{
		Fetcher:   f,
		Artifacts: dir.Artifacts(f),
		Logger:    logger,
	})
	return &testEnv{app: app, upstream: upstream, hits: hits}
}

func (e *testEnv) do(t *testing.T, method, target string, body io.Reader) *http.Response {
	t.Helper()
	resp, err := e.app.Test(httptest.NewRequest(method, target, body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload
}

func withSpecifier(path, spec string, extra ...string) string {
	query := "specifier=" + url.QueryEscape(spec)
	for _, kv := range extra {
		query += "&" + kv
	}
	return path + "?" + query
}

func TestSchemesListsRegisteredSchemes(t *testing.T) {
	env := newTestEnv(t, true)

	resp := env.do(t, http.MethodGet, "/-/schemes", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	payload := decodeBody(t, resp)
	schemes, ok := payload["schemes"].([]any)
	require.True(t, ok)

	var keys []string
	for _, item := range schemes {
		keys = append(keys, item.(map[string]any)["key"].(string))
	}
	require.Contains(t, keys, "https")
	require.Contains(t, keys, "data")
}

func TestFetchUsesCacheUntilReload(t *testing.T) {
	env := newTestEnv(t, true)
	spec := env.upstream.URL + "/mod.ts"

	resp := env.do(t, http.MethodGet, withSpecifier("/-/fetch", spec), nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	payload := decodeBody(t, resp)
	require.Equal(t, "module", payload["kind"])
	require.Equal(t, spec, payload["specifier"])
	require.Equal(t, "export const a = 1;", payload["content"])

	resp = env.do(t, http.MethodGet, withSpecifier("/-/fetch", spec), nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, atomic.LoadInt32(env.hits))

	resp = env.do(t, http.MethodGet, withSpecifier("/-/fetch", spec, "reload=true"), nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.EqualValues(t, 2, atomic.LoadInt32(env.hits))

	resp = env.do(t, http.MethodGet, withSpecifier("/-/fetch", spec, "reload="+url.QueryEscape("https://elsewhere.test/")), nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.EqualValues(t, 2, atomic.LoadInt32(env.hits))
}

func TestFetchRawReplaysHeaders(t *testing.T) {
	env := newTestEnv(t, true)
	spec := env.upstream.URL + "/mod.ts"

	resp := env.do(t, http.MethodGet, withSpecifier("/-/fetch", spec, "format=raw"), nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "application/typescript", resp.Header.Get("Content-Type"))
	require.Equal(t, spec, resp.Header.Get("X-Module-Specifier"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "export const a = 1;", string(body))
}

func TestFetchErrorMapping(t *testing.T) {
	env := newTestEnv(t, true)

	cases := []struct {
		name   string
		target string
		status int
		code   string
	}{
		{"missing specifier", "/-/fetch", fiber.StatusBadRequest, "invalid_specifier"},
		{"unsupported scheme", withSpecifier("/-/fetch", "ftp://example.com/mod.ts"), fiber.StatusBadRequest, "unsupported_scheme"},
		{"absent", withSpecifier("/-/fetch", env.upstream.URL+"/missing.ts"), fiber.StatusNotFound, "module_not_found"},
		{"upstream status", withSpecifier("/-/fetch", env.upstream.URL+"/broken.ts"), fiber.StatusBadGateway, "upstream_status"},
		{"cached only miss", withSpecifier("/-/fetch", env.upstream.URL+"/mod.ts", "cached_only=true"), fiber.StatusNotFound, "not_cached"},
		{"blob", withSpecifier("/-/fetch", "blob:https://example.com/0b1c"), fiber.StatusBadRequest, "blob_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.do(t, http.MethodGet, tc.target, nil)
			require.Equal(t, tc.status, resp.StatusCode)
			require.Equal(t, tc.code, decodeBody(t, resp)["error"])
		})
	}
}

func TestFetchRemoteDisabled(t *testing.T) {
	env := newTestEnv(t, false)

	resp := env.do(t, http.MethodGet, withSpecifier("/-/fetch", env.upstream.URL+"/mod.ts"), nil)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	require.Equal(t, "remote_disabled", decodeBody(t, resp)["error"])
	require.EqualValues(t, 0, atomic.LoadInt32(env.hits))
}

func TestFetchDataURL(t *testing.T) {
	env := newTestEnv(t, false)

	resp := env.do(t, http.MethodGet, withSpecifier("/-/fetch", "data:application/javascript,export%20default%201"), nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "export default 1", decodeBody(t, resp)["content"])
}

func TestArtifactsRoundTrip(t *testing.T) {
	env := newTestEnv(t, true)
	spec := "https://deno.land/x/mod.ts"

	resp := env.do(t, http.MethodGet, withSpecifier("/-/artifacts/emit", spec), nil)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	require.Equal(t, "artifact_not_found", decodeBody(t, resp)["error"])

	resp = env.do(t, http.MethodPut, withSpecifier("/-/artifacts/emit", spec), strings.NewReader("console.log(1);"))
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, withSpecifier("/-/artifacts/emit", spec), nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "console.log(1);", string(body))

	resp = env.do(t, http.MethodPut, withSpecifier("/-/artifacts/version", spec), strings.NewReader("abc123"))
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	resp = env.do(t, http.MethodGet, withSpecifier("/-/artifacts/version", spec), nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "abc123", string(body))
}

func TestArtifactsUnknownKind(t *testing.T) {
	env := newTestEnv(t, true)

	resp := env.do(t, http.MethodGet, withSpecifier("/-/artifacts/bytecode", "https://deno.land/x/mod.ts"), nil)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "unknown_kind", decodeBody(t, resp)["error"])
}

func TestInfoReportsCachedFiles(t *testing.T) {
	env := newTestEnv(t, true)
	spec := env.upstream.URL + "/mod.ts"

	resp := env.do(t, http.MethodGet, withSpecifier("/-/info", spec), nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	payload := decodeBody(t, resp)
	require.NotEmpty(t, payload["filename"])
	require.Empty(t, payload["cache"].(map[string]any))

	resp = env.do(t, http.MethodGet, withSpecifier("/-/fetch", spec), nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp = env.do(t, http.MethodPut, withSpecifier("/-/artifacts/emit", spec), strings.NewReader("js"))
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, withSpecifier("/-/info", spec), nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	info := decodeBody(t, resp)["cache"].(map[string]any)
	require.NotEmpty(t, info["local"])
	require.NotEmpty(t, info["emit"])
	require.Empty(t, info["map"])
}
