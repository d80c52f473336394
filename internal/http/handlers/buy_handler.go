// Purchase HTTP handler.
//
// POST /buy runs the full purchase pipeline. The handler enforces
// authentication (the pipeline itself never sees anonymous requests), binds
// the JSON payload, and writes either the committed response body — which is
// byte-identical on idempotent replays — or the mapped error envelope.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/winstonhq/go-domain-gateway/internal/http/middleware"
	"github.com/winstonhq/go-domain-gateway/internal/services"
)

// PurchaseService is the slice of services.PurchaseService the handler needs.
type PurchaseService interface {
	Buy(ctx context.Context, userID string, req services.BuyRequest) (json.RawMessage, error)
}

// Buy handles POST /buy.
func (h *Handlers) Buy(c *gin.Context) {
	userID, authed := middleware.UserID(c)
	if !authed {
		fail(c, http.StatusUnauthorized, services.KindUnauthorized, "bearer token required")
		return
	}

	var req services.BuyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, services.KindValidation, "invalid request body")
		return
	}

	body, err := h.purchaseSvc.Buy(c.Request.Context(), userID, req)
	if err != nil {
		failErr(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}
