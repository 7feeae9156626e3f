// Package routes registers the /-/ diagnostics endpoints next to the package
// route.
package routes

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/pkg-cdn/internal/fetch"
	"github.com/any-hub/pkg-cdn/internal/gateway"
	"github.com/any-hub/pkg-cdn/internal/registry"
	"github.com/any-hub/pkg-cdn/internal/version"
)

type registryStats interface {
	Stats() registry.Stats
}

type fetchStats interface {
	Stats() fetch.Stats
}

type gatewayStats interface {
	Stats() gateway.Stats
}

// StatusSources 汇总 /-/status 读取的计数来源，任一字段为空则省略对应段。
type StatusSources struct {
	Registry    registryStats
	Fetch       fetchStats
	Gateway     gatewayStats
	RegistryURL string
	StartedAt   time.Time
}

type statusPayload struct {
	Version     string          `json:"version"`
	RegistryURL string          `json:"registry_url,omitempty"`
	Uptime      string          `json:"uptime,omitempty"`
	Metadata    *registry.Stats `json:"metadata,omitempty"`
	Downloads   *downloadStats  `json:"downloads,omitempty"`
	Requests    *gateway.Stats  `json:"requests,omitempty"`
}

type downloadStats struct {
	fetch.Stats
	Transferred string `json:"transferred"`
}

// RegisterStatusRoutes 暴露 /-/status 诊断接口，输出元数据缓存、下载与请求计数。
func RegisterStatusRoutes(app *fiber.App, sources StatusSources) {
	if app == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		payload := statusPayload{
			Version:     version.Full(),
			RegistryURL: sources.RegistryURL,
		}
		if !sources.StartedAt.IsZero() {
			payload.Uptime = time.Since(sources.StartedAt).Truncate(time.Second).String()
		}
		if sources.Registry != nil {
			stats := sources.Registry.Stats()
			payload.Metadata = &stats
		}
		if sources.Fetch != nil {
			stats := sources.Fetch.Stats()
			payload.Downloads = &downloadStats{
				Stats:       stats,
				Transferred: humanize.Bytes(uint64(stats.BytesDownloaded)),
			}
		}
		if sources.Gateway != nil {
			stats := sources.Gateway.Stats()
			payload.Requests = &stats
		}
		c.Set(fiber.HeaderCacheControl, "no-store")
		return c.JSON(payload)
	})
}
