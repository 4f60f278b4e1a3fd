package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/apfiles/apfiles/internal/datastore"
	"github.com/apfiles/apfiles/internal/domain/user"
	"github.com/apfiles/apfiles/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

type UserMutator interface {
	Users() []user.User
	UpdateUserPartial(ctx context.Context, id string, patch user.Patch) error
	DeleteUser(ctx context.Context, id string) error
}

type UsersHandler struct {
	store UserMutator
}

func NewUsersHandler(store UserMutator) *UsersHandler {
	return &UsersHandler{store: store}
}

func (h *UsersHandler) ListUsers(ctx *gin.Context) {
	users := h.store.Users()

	ctx.JSON(http.StatusOK, gin.H{
		"items": users,
		"count": len(users),
	})
}

// UpdateUser applies a partial update. Students may only update
// themselves; the builder may update anyone but may not hand out roles
// to itself this way.
func (h *UsersHandler) UpdateUser(ctx *gin.Context) {
	id := ctx.Param("id")

	role, _ := middlewares.RoleFromContext(ctx)
	callerID, _ := middlewares.UserIDFromContext(ctx)

	if role != string(user.RoleBuilder) && callerID != id {
		RespondError(ctx, http.StatusForbidden, "forbidden", "You may only update your own account", nil)
		return
	}

	var patch user.Patch
	if !BindJSON(ctx, &patch) {
		return
	}

	if role != string(user.RoleBuilder) {
		// role changes are builder-only
		patch.Role = nil
	}

	err := h.store.UpdateUserPartial(ctx.Request.Context(), id, patch)
	if err != nil {
		switch {
		case errors.Is(err, user.ErrNotFound):
			RespondNotFound(ctx, "User not found")
		case errors.Is(err, datastore.ErrPhoneTaken):
			RespondConflict(ctx, "phone_taken", "Phone number already registered")
		default:
			RespondInternal(ctx, "Could not update user")
		}
		return
	}

	ctx.Status(http.StatusNoContent)
}

// DeleteUser removes a user and cascades to their requests.
func (h *UsersHandler) DeleteUser(ctx *gin.Context) {
	id := ctx.Param("id")

	if err := h.store.DeleteUser(ctx.Request.Context(), id); err != nil {
		RespondInternal(ctx, "Could not delete user")
		return
	}

	ctx.Status(http.StatusNoContent)
}
