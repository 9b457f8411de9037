package server

import (
	"errors"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ResourceHandler describes the gateway component that serves a resolved
// resource route. It allows injecting fake handlers during tests.
type ResourceHandler interface {
	Handle(fiber.Ctx, *ResourceRoute) error
}

// ResourceHandlerFunc adapts a function to the ResourceHandler interface.
type ResourceHandlerFunc func(fiber.Ctx, *ResourceRoute) error

// Handle makes ResourceHandlerFunc satisfy ResourceHandler.
func (f ResourceHandlerFunc) Handle(c fiber.Ctx, route *ResourceRoute) error {
	return f(c, route)
}

// ResourceRoute 描述一次资源请求解析后的结果。
type ResourceRoute struct {
	// Identifier 是 URL 解码后的资源标识（不含前导 /），交给协调器规范化。
	Identifier string
	// Namespaced 表示请求命中 /<namespace>/ 路由，仅使用媒体类型表。
	Namespaced bool
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger       *logrus.Logger
	Resources    ResourceHandler
	Namespace    string
	AllowOrigins []string
}

const (
	contextKeyRoute     = "_assethub_route"
	contextKeyRequestID = "_assethub_request_id"

	statusPath = "/status"
)

// NewApp builds a Fiber application with request-id/CORS middleware and the
// resource catch-all. Reserved paths fall through so that diagnostics routes
// registered later still match.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Resources == nil {
		return nil, errors.New("resource handler is required")
	}
	origins := opts.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{fiber.MethodGet, fiber.MethodPost, fiber.MethodOptions},
	}))
	app.Use(requestContextMiddleware(opts))

	app.Get("/*", func(c fiber.Ctx) error {
		if isReservedPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		route, ok := getRouteFromContext(c)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_path"})
		}
		return opts.Resources.Handle(c, route)
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，并把请求路径解析为 ResourceRoute。
func requestContextMiddleware(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		if isReservedPath(string(c.Request().URI().Path())) {
			return c.Next()
		}

		route, err := ResolveRoute(string(c.Request().URI().PathOriginal()), opts.Namespace)
		if err != nil {
			opts.Logger.WithFields(logrus.Fields{
				"action":     "route_resolve",
				"path":       string(c.Request().URI().PathOriginal()),
				"request_id": reqID,
			}).WithError(err).Warn("invalid resource path")
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_path"})
		}

		c.Locals(contextKeyRoute, route)
		return c.Next()
	}
}

// ResolveRoute 将原始请求路径（可能包含 %xx 编码与查询串）转换为 ResourceRoute。
// /<namespace>/<rest> 解析为 <namespace>/<urlDecode(rest)>，其余路径整体解码后作为资源标识。
func ResolveRoute(rawPath, namespace string) (*ResourceRoute, error) {
	if idx := strings.IndexByte(rawPath, '?'); idx >= 0 {
		rawPath = rawPath[:idx]
	}
	trimmed := strings.TrimPrefix(rawPath, "/")

	if namespace != "" {
		prefix := namespace + "/"
		if rest, ok := strings.CutPrefix(trimmed, prefix); ok {
			decoded, err := url.PathUnescape(rest)
			if err != nil {
				return nil, err
			}
			return &ResourceRoute{Identifier: prefix + decoded, Namespaced: true}, nil
		}
	}

	decoded, err := url.PathUnescape(trimmed)
	if err != nil {
		return nil, err
	}
	return &ResourceRoute{Identifier: decoded}, nil
}

func getRouteFromContext(c fiber.Ctx) (*ResourceRoute, bool) {
	if value := c.Locals(contextKeyRoute); value != nil {
		if route, ok := value.(*ResourceRoute); ok {
			return route, true
		}
	}
	return nil, false
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// isReservedPath 判断路径是否属于诊断接口；/status 必须优先于资源兜底路由匹配。
func isReservedPath(path string) bool {
	return path == statusPath || strings.HasPrefix(path, "/-/")
}
