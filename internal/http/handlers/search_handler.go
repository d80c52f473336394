// Search HTTP handler.
//
// POST /search accepts either a free-text prompt or an explicit candidate
// list and returns the filtered availability results. Authentication is
// optional; anonymous callers are rate-limited by IP.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/winstonhq/go-domain-gateway/internal/http/middleware"
	"github.com/winstonhq/go-domain-gateway/internal/services"
)

// SearchService is the slice of services.SearchService the handler needs.
type SearchService interface {
	Search(ctx context.Context, userID string, req services.SearchRequest) (*services.SearchResponse, error)
}

// Search handles POST /search.
func (h *Handlers) Search(c *gin.Context) {
	var req services.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, services.KindValidation, "invalid request body")
		return
	}

	userID, _ := middleware.UserID(c)
	resp, err := h.searchSvc.Search(c.Request.Context(), userID, req)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, resp)
}
