package proxy

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/asset-hub/asset-hub/internal/assets"
	"github.com/asset-hub/asset-hub/internal/cache"
	"github.com/asset-hub/asset-hub/internal/logging"
	"github.com/asset-hub/asset-hub/internal/server"
)

// AssetFetcher 是网关依赖的协调器能力。
type AssetFetcher interface {
	GetOrFetch(ctx context.Context, raw string) (*assets.Resource, error)
}

// Handler 把解析后的资源路由交给协调器，并将结果映射为带 Content-Type 的响应。
type Handler struct {
	assets AssetFetcher
	logger *logrus.Logger
}

// NewHandler constructs a gateway handler over the shared coordinator.
func NewHandler(fetcher AssetFetcher, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Handler{
		assets: fetcher,
		logger: logger,
	}
}

// Handle 实现 server.ResourceHandler：命中或回源成功返回 200，任何失败都会输出结构化日志。
func (h *Handler) Handle(c fiber.Ctx, route *server.ResourceRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	res, err := h.assets.GetOrFetch(ctx, route.Identifier)
	if err != nil {
		status, code := classifyError(err)
		h.logResult(route, route.Identifier, requestID, status, false, started, err)
		return h.writeError(c, status, code)
	}

	c.Set(fiber.HeaderContentType, contentTypeFor(res.Path, route.Namespaced))
	c.Set("X-Asset-Cache-Hit", strconv.FormatBool(res.CacheHit))
	if err := c.Status(fiber.StatusOK).Send(res.Data); err != nil {
		h.logResult(route, res.Key, requestID, fiber.StatusInternalServerError, res.CacheHit, started, err)
		return h.writeError(c, fiber.StatusInternalServerError, "response_failed")
	}

	h.logResult(route, res.Key, requestID, fiber.StatusOK, res.CacheHit, started, nil)
	return nil
}

// classifyError 将协调器错误映射为 HTTP 状态与错误码。
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, assets.ErrNotFound), errors.Is(err, cache.ErrNotFound):
		return fiber.StatusNotFound, "not_found"
	case errors.Is(err, cache.ErrInvalidKey):
		return fiber.StatusBadRequest, "invalid_path"
	case assets.IsUpstreamFailure(err):
		return fiber.StatusBadGateway, "upstream_failed"
	case errors.Is(err, assets.ErrIO):
		return fiber.StatusInternalServerError, "io_failed"
	default:
		return fiber.StatusBadGateway, "fetch_failed"
	}
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.ResourceRoute,
	key string,
	requestID string,
	status int,
	cacheHit bool,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(key, route.Namespaced, cacheHit)
	fields["action"] = "asset"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("asset_failed")
		return
	}
	h.logger.WithFields(fields).Debug("asset_served")
}
