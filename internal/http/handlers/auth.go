package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/apfiles/apfiles/internal/auth"
	"github.com/apfiles/apfiles/internal/config"
	"github.com/apfiles/apfiles/internal/datastore"
	"github.com/apfiles/apfiles/internal/domain/user"
	"github.com/apfiles/apfiles/internal/security"
	"github.com/gin-gonic/gin"
)

// Keep the handler surface on small interfaces so tests can fake them.
type UserDirectory interface {
	RegisterUser(ctx context.Context, reg user.RegisterRequest) (user.User, error)
	UserByPhone(phone string) (user.User, bool)
	UserByID(id string) (user.User, bool)
}

type AuthHandler struct {
	users UserDirectory
	jwt   *auth.Manager
	cfg   config.Config
}

func NewAuthHandler(users UserDirectory, jwtManager *auth.Manager, cfg config.Config) *AuthHandler {
	return &AuthHandler{
		users: users,
		jwt:   jwtManager,
		cfg:   cfg,
	}
}

// LoginRequest carries either builder credentials (email + password) or
// a student phone number, mirroring the two login paths of the form.
type LoginRequest struct {
	Email       string `json:"email" binding:"omitempty,email"`
	Password    string `json:"password" binding:"omitempty"`
	PhoneNumber string `json:"phoneNumber" binding:"omitempty,len=10,numeric"`
}

type sessionResponse struct {
	Token string    `json:"token"`
	User  user.User `json:"user"`
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	if req.Email != "" {
		h.builderLogin(ctx, req)
		return
	}

	if req.PhoneNumber == "" {
		RespondBadRequest(ctx, "Provide either builder credentials or a phone number", nil)
		return
	}

	u, ok := h.users.UserByPhone(req.PhoneNumber)
	if !ok {
		RespondError(ctx, http.StatusUnauthorized, "unknown_phone", "No account for that phone number", nil)
		return
	}

	h.respondSession(ctx, http.StatusOK, u)
}

// builderLogin checks the static builder credentials from config. The
// builder account itself is bootstrapped at startup.
func (h *AuthHandler) builderLogin(ctx *gin.Context, req LoginRequest) {
	if req.Email != h.cfg.BuilderEmail || h.cfg.BuilderPasswordHash == "" ||
		security.CheckPassword(h.cfg.BuilderPasswordHash, req.Password) != nil {
		RespondError(ctx, http.StatusUnauthorized, "invalid_credentials", "Invalid builder credentials", nil)
		return
	}

	u, ok := h.users.UserByPhone(h.cfg.BuilderPhone)
	if !ok {
		RespondInternal(ctx, "Builder account is not provisioned")
		return
	}

	h.respondSession(ctx, http.StatusOK, u)
}

func (h *AuthHandler) Register(ctx *gin.Context) {
	var req user.RegisterRequest

	if !BindJSON(ctx, &req) {
		return
	}

	u, err := h.users.RegisterUser(ctx.Request.Context(), req)
	if err != nil {
		if errors.Is(err, datastore.ErrPhoneTaken) {
			RespondConflict(ctx, "phone_taken", "Phone number already registered")
			return
		}
		RespondInternal(ctx, "Could not register user")
		return
	}

	h.respondSession(ctx, http.StatusCreated, u)
}

func (h *AuthHandler) respondSession(ctx *gin.Context, status int, u user.User) {
	token, err := h.jwt.GenerateAccessToken(u.ID, u.FullName, string(u.Role))
	if err != nil {
		RespondInternal(ctx, "Could not create session")
		return
	}

	ctx.JSON(status, sessionResponse{Token: token, User: u})
}
