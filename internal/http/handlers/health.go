package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is satisfied by a closure over the pgx pool or the redis client.
type Pinger func(ctx context.Context) error

type HealthHandler struct {
	checks map[string]Pinger
	log    *slog.Logger
}

func NewHealthHandler(checks map[string]Pinger, log *slog.Logger) *HealthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &HealthHandler{checks: checks, log: log}
}

func (h *HealthHandler) Healthz(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz reports only the names of failing dependencies. The driver errors
// carry hosts and ports, so they go to the log instead of the response.
func (h *HealthHandler) Readyz(ctx *gin.Context) {
	cctx, cancel := context.WithTimeout(ctx.Request.Context(), time.Second)
	defer cancel()

	failed := []string{}
	for name, ping := range h.checks {
		if ping == nil {
			continue
		}
		if err := ping(cctx); err != nil {
			h.log.WarnContext(ctx.Request.Context(), "readiness check failed",
				"check", name,
				"err", err,
			)
			failed = append(failed, name)
		}
	}

	if len(failed) > 0 {
		sort.Strings(failed)
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "failed": failed})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"status": "ready"})
}
