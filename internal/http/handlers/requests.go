package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/apfiles/apfiles/internal/datastore"
	"github.com/apfiles/apfiles/internal/domain/request"
	"github.com/apfiles/apfiles/internal/domain/user"
	"github.com/apfiles/apfiles/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

type RequestMutator interface {
	Requests() []request.RequestItem
	AddRequest(ctx context.Context, userID string, req request.CreateRequest) (request.RequestItem, error)
	UpdateRequest(ctx context.Context, id string, patch request.Patch) error
}

type RequestsHandler struct {
	store RequestMutator
}

func NewRequestsHandler(store RequestMutator) *RequestsHandler {
	return &RequestsHandler{store: store}
}

// ListRequests returns the builder's full view, or just the caller's own
// requests for students.
func (h *RequestsHandler) ListRequests(ctx *gin.Context) {
	items := h.store.Requests()

	role, _ := middlewares.RoleFromContext(ctx)
	if role != string(user.RoleBuilder) {
		callerID, _ := middlewares.UserIDFromContext(ctx)
		own := items[:0]
		for _, r := range items {
			if r.UserID == callerID {
				own = append(own, r)
			}
		}
		items = own
	}

	ctx.JSON(http.StatusOK, gin.H{
		"items": items,
		"count": len(items),
	})
}

// CreateRequest files a material request for the caller.
func (h *RequestsHandler) CreateRequest(ctx *gin.Context) {
	var req request.CreateRequest

	if !BindJSON(ctx, &req) {
		return
	}

	callerID, _ := middlewares.UserIDFromContext(ctx)

	item, err := h.store.AddRequest(ctx.Request.Context(), callerID, req)
	if err != nil {
		if errors.Is(err, datastore.ErrUnknownUser) {
			RespondError(ctx, http.StatusUnauthorized, "unknown_user", "Your account no longer exists", nil)
			return
		}
		RespondInternal(ctx, "Could not create request")
		return
	}

	ctx.JSON(http.StatusCreated, item)
}

// UpdateRequest applies a partial update; builder only (status moves,
// attaching the produced file name, and so on).
func (h *RequestsHandler) UpdateRequest(ctx *gin.Context) {
	id := ctx.Param("id")

	var patch request.Patch
	if !BindJSON(ctx, &patch) {
		return
	}

	err := h.store.UpdateRequest(ctx.Request.Context(), id, patch)
	if err != nil {
		if errors.Is(err, request.ErrNotFound) {
			RespondNotFound(ctx, "Request not found")
			return
		}
		RespondInternal(ctx, "Could not update request")
		return
	}

	ctx.Status(http.StatusNoContent)
}
