package routes

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/modcache/internal/cache"
	"github.com/any-hub/modcache/internal/emitcache"
	"github.com/any-hub/modcache/internal/fetcher"
	"github.com/any-hub/modcache/internal/httpcache"
	"github.com/any-hub/modcache/internal/server"
	"github.com/any-hub/modcache/internal/specifier"
)

// Dependencies 汇总缓存路由所需的组件。
type Dependencies struct {
	Fetcher   *fetcher.Fetcher
	Artifacts *emitcache.Cache
	Logger    *logrus.Logger
}

// RegisterCacheRoutes 暴露 /-/schemes、/-/info、/-/fetch 与 /-/artifacts 接口。
func RegisterCacheRoutes(app *fiber.App, deps Dependencies) {
	if app == nil || deps.Fetcher == nil || deps.Artifacts == nil {
		return
	}
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	h := &cacheHandler{deps: deps}

	app.Get("/-/schemes", h.schemes)
	app.Get("/-/info", h.info)
	app.Get("/-/fetch", h.fetch)
	app.Get("/-/artifacts/:kind", h.getArtifact)
	app.Put("/-/artifacts/:kind", h.putArtifact)
}

type cacheHandler struct {
	deps Dependencies
}

type loadPayload struct {
	Kind      string            `json:"kind"`
	Specifier string            `json:"specifier"`
	Headers   httpcache.Headers `json:"headers"`
	Content   string            `json:"content"`
}

type infoPayload struct {
	Specifier string                   `json:"specifier"`
	Scheme    specifier.SchemeMetadata `json:"scheme"`
	Filename  string                   `json:"filename"`
	ReadOnly  bool                     `json:"read_only"`
	Cache     emitcache.Info           `json:"cache"`
}

func (h *cacheHandler) schemes(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"schemes": specifier.List()})
}

func (h *cacheHandler) info(c fiber.Ctx) error {
	u, err := parseSpecifier(c)
	if err != nil {
		return renderError(c, err)
	}
	meta, _ := specifier.Validate(u)
	filename, err := specifier.CacheFilename(u)
	if err != nil {
		return renderError(c, err)
	}
	return c.JSON(infoPayload{
		Specifier: u.String(),
		Scheme:    meta,
		Filename:  filename,
		ReadOnly:  h.deps.Artifacts.ReadOnly(),
		Cache:     h.deps.Artifacts.CacheInfo(u),
	})
}

func (h *cacheHandler) fetch(c fiber.Ctx) error {
	u, err := parseSpecifier(c)
	if err != nil {
		return renderError(c, err)
	}

	// 每个请求使用独立的记忆表，避免长驻进程永远命中首次结果
	base := h.deps.Fetcher.Setting()
	if strings.EqualFold(c.Query("cached_only"), "true") {
		base = fetcher.CachedOnly()
	}
	f := h.deps.Fetcher.WithSetting(fetcher.SettingFromReload(c.Query("reload"), base))

	resp, err := f.Fetch(requestContext(c), u)
	if err != nil {
		return renderError(c, err)
	}
	if resp == nil {
		return server.WriteError(c, fiber.StatusNotFound, "module_not_found", "module not found: "+u.String())
	}

	if strings.EqualFold(c.Query("format"), "raw") {
		for _, key := range resp.Headers.Keys() {
			if server.IsHopByHopHeader(key) {
				continue
			}
			c.Set(key, resp.Headers.Get(key))
		}
		c.Set("X-Module-Specifier", resp.Specifier)
		return c.Send(resp.Content)
	}
	return c.JSON(loadPayload{
		Kind:      resp.Kind,
		Specifier: resp.Specifier,
		Headers:   resp.Headers,
		Content:   string(resp.Content),
	})
}

func (h *cacheHandler) getArtifact(c fiber.Ctx) error {
	kind, err := emitcache.ParseKind(c.Params("kind"))
	if err != nil {
		return renderError(c, err)
	}
	u, err := parseSpecifier(c)
	if err != nil {
		return renderError(c, err)
	}
	data, err := h.deps.Artifacts.Get(requestContext(c), kind, u)
	if err != nil {
		return renderError(c, err)
	}
	c.Set(fiber.HeaderContentType, "text/plain; charset=utf-8")
	return c.Send(data)
}

func (h *cacheHandler) putArtifact(c fiber.Ctx) error {
	kind, err := emitcache.ParseKind(c.Params("kind"))
	if err != nil {
		return renderError(c, err)
	}
	u, err := parseSpecifier(c)
	if err != nil {
		return renderError(c, err)
	}
	if h.deps.Artifacts.ReadOnly() {
		return server.WriteError(c, fiber.StatusConflict, "read_only", "cache is read-only")
	}
	body := append([]byte(nil), c.Body()...)
	if err := h.deps.Artifacts.Set(requestContext(c), kind, u, body); err != nil {
		h.deps.Logger.WithError(err).WithFields(logrus.Fields{
			"action":     "artifact_set",
			"kind":       string(kind),
			"specifier":  u.String(),
			"request_id": server.RequestID(c),
		}).Warn("cache_set_failed")
		return renderError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type invalidSpecifierError struct {
	err error
}

func (e *invalidSpecifierError) Error() string { return e.err.Error() }
func (e *invalidSpecifierError) Unwrap() error { return e.err }

func parseSpecifier(c fiber.Ctx) (*url.URL, error) {
	raw := c.Query("specifier")
	if strings.TrimSpace(raw) == "" {
		return nil, &invalidSpecifierError{err: errors.New("query parameter specifier is required")}
	}
	u, err := specifier.Parse(raw)
	if err != nil {
		var unsupported *specifier.UnsupportedSchemeError
		if errors.As(err, &unsupported) {
			return nil, err
		}
		return nil, &invalidSpecifierError{err: err}
	}
	return u, nil
}

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

// renderError 将领域错误映射为 HTTP 状态码与错误码。
func renderError(c fiber.Ctx, err error) error {
	var (
		invalid     *invalidSpecifierError
		unsupported *specifier.UnsupportedSchemeError
		unknownKind *emitcache.UnknownKindError
		notCached   *fetcher.NotFoundError
		denied      *fetcher.PermissionDeniedError
		redirects   *fetcher.TooManyRedirectsError
		status      *fetcher.HTTPStatusError
		blob        *fetcher.BlobUnavailableError
	)
	switch {
	case errors.As(err, &invalid):
		return server.WriteError(c, fiber.StatusBadRequest, "invalid_specifier", err.Error())
	case errors.As(err, &unsupported):
		return server.WriteError(c, fiber.StatusBadRequest, "unsupported_scheme", err.Error())
	case errors.As(err, &unknownKind):
		return server.WriteError(c, fiber.StatusBadRequest, "unknown_kind", err.Error())
	case errors.As(err, &blob):
		return server.WriteError(c, fiber.StatusBadRequest, "blob_unavailable", err.Error())
	case errors.As(err, &notCached):
		return server.WriteError(c, fiber.StatusNotFound, "not_cached", err.Error())
	case errors.Is(err, cache.ErrNotFound):
		return server.WriteError(c, fiber.StatusNotFound, "artifact_not_found", "")
	case errors.As(err, &denied):
		return server.WriteError(c, fiber.StatusForbidden, "remote_disabled", err.Error())
	case errors.As(err, &redirects):
		return server.WriteError(c, fiber.StatusBadGateway, "too_many_redirects", err.Error())
	case errors.As(err, &status):
		return server.WriteError(c, fiber.StatusBadGateway, "upstream_status", err.Error())
	default:
		return err
	}
}
