package maintenance

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer exposes liveness, readiness and job status for the worker.
type HealthServer struct {
	sched        *Scheduler
	db           Pinger
	shuttingDown atomic.Bool
}

func NewHealthServer(sched *Scheduler, db Pinger) *HealthServer {
	return &HealthServer{sched: sched, db: db}
}

// MarkShuttingDown flips readiness to 503 so the orchestrator stops routing.
func (h *HealthServer) MarkShuttingDown() { h.shuttingDown.Store(true) }

func (h *HealthServer) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	// liveness: process is up
	r.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"ok": true})
	})

	// readiness: not shutting down and the database answers
	r.GET("/readyz", func(ctx *gin.Context) {
		if h.shuttingDown.Load() {
			ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "shutting_down"})
			return
		}

		cctx, cancel := context.WithTimeout(ctx.Request.Context(), 500*time.Millisecond)
		defer cancel()

		if err := h.db.Ping(cctx); err != nil {
			ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "db": "down"})
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/statusz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"jobs": h.sched.Status()})
	})

	return r
}

func sortStatuses(s []JobStatus) {
	slices.SortFunc(s, func(a, b JobStatus) int { return strings.Compare(a.Name, b.Name) })
}
