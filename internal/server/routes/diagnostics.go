package routes

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/asset-hub/asset-hub/internal/assets"
)

// AssetInspector 是诊断接口依赖的协调器能力，测试中可注入假实现。
type AssetInspector interface {
	Status() assets.Status
	Check(raw string) assets.Existence
	Prefetch(ctx context.Context, raws []string) error
}

type prefetchRequest struct {
	Paths []string `json:"paths"`
}

// RegisterDiagnosticsRoutes 暴露 /status、/-/exists 与 /-/prefetch，供前端轮询下载进度、
// 判断是否显示下载提示以及批量预热资源。
func RegisterDiagnosticsRoutes(app *fiber.App, inspector AssetInspector, logger *logrus.Logger) {
	if app == nil || inspector == nil || logger == nil {
		return
	}

	app.Get("/status", func(c fiber.Ctx) error {
		return c.JSON(inspector.Status())
	})

	app.Get("/-/exists", func(c fiber.Ctx) error {
		raw := c.Query("path")
		if strings.TrimSpace(raw) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "path_required"})
		}
		return c.JSON(inspector.Check(raw))
	})

	app.Post("/-/prefetch", func(c fiber.Ctx) error {
		var req prefetchRequest
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
		}
		paths := compactPaths(req.Paths)
		if len(paths) == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "paths_required"})
		}

		// 预热在后台进行，请求上下文在响应后即失效。
		go func() {
			if err := inspector.Prefetch(context.Background(), paths); err != nil {
				logger.WithFields(logrus.Fields{
					"action": "prefetch",
					"count":  len(paths),
				}).WithError(err).Warn("prefetch_incomplete")
				return
			}
			logger.WithFields(logrus.Fields{"action": "prefetch", "count": len(paths)}).Info("prefetch_complete")
		}()

		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"accepted": len(paths)})
	})
}

func compactPaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	result := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		result = append(result, p)
	}
	return result
}
