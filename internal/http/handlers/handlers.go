// Package handlers provides HTTP handler implementations for the public API.
//
// Handlers are transport-thin: they bind and sanity-check JSON, delegate to
// the application services, and translate service errors into the standard
// envelope. All business rules live below this layer.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthInfo is the static deployment facts surfaced by /health. DryRun is
// deliberately visible so operators can detect a gateway that is simulating
// purchases.
type HealthInfo struct {
	Provider string
	DryRun   bool
	Version  string
	Started  time.Time
}

// Handlers aggregates the service dependencies for all endpoints.
type Handlers struct {
	purchaseSvc PurchaseService
	searchSvc   SearchService
	statusSvc   StatusService
	health      HealthInfo
}

// New constructs the handler set.
func New(purchaseSvc PurchaseService, searchSvc SearchService, statusSvc StatusService, health HealthInfo) *Handlers {
	if health.Started.IsZero() {
		health.Started = time.Now().UTC()
	}
	return &Handlers{
		purchaseSvc: purchaseSvc,
		searchSvc:   searchSvc,
		statusSvc:   statusSvc,
		health:      health,
	}
}

// Health reports liveness plus the deployment facts a caller needs before
// trusting a purchase: active provider and dry-run state.
func (h *Handlers) Health(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(h.health.Started).Truncate(time.Second).String(),
		"provider":  h.health.Provider,
		"dry_run":   h.health.DryRun,
		"version":   h.health.Version,
	})
}
