// Status HTTP handler.
//
// GET /status/:domain projects the gateway's persisted view of one domain.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/winstonhq/go-domain-gateway/internal/services"
)

// StatusService is the slice of services.StatusService the handler needs.
type StatusService interface {
	Status(ctx context.Context, domain string) (*services.StatusProjection, error)
}

// Status handles GET /status/:domain.
func (h *Handlers) Status(c *gin.Context) {
	proj, err := h.statusSvc.Status(c.Request.Context(), c.Param("domain"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, proj)
}
