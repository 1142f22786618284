package user

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-bookstore/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/auth"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/httpx"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/user/entity"
)

var registerSchema = httpx.MustSchema(`{
	"type": "object",
	"required": ["name", "email", "password"],
	"properties": {
		"name": {"type": "string", "minLength": 1, "maxLength": 80},
		"email": {"type": "string", "minLength": 3, "maxLength": 254},
		"password": {"type": "string", "minLength": 1, "maxLength": 72}
	}
}`)

var loginSchema = httpx.MustSchema(`{
	"type": "object",
	"required": ["email", "password"],
	"properties": {
		"email": {"type": "string"},
		"password": {"type": "string"}
	}
}`)

// Handler exposes HTTP endpoints for register / login / me.
type Handler struct {
	svc    *UserService
	tokens *auth.TokenService
	logger *zap.SugaredLogger
}

func NewHandler(svc *UserService, tokens *auth.TokenService, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, tokens: tokens, logger: logger}
}

// RegisterRequest request body for register endpoint. There is no role field.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	Token string         `json:"token"`
	User  entity.Profile `json:"user"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httpx.DecodeJSON(r, registerSchema, &req); err != nil {
		httpx.WriteError(w, h.logger, r, err)
		return
	}
	u, err := h.svc.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		httpx.WriteError(w, h.logger, r, err)
		return
	}
	h.logger.Infow("user registered", "user_id", u.ID)
	h.respondWithToken(w, r, http.StatusCreated, u)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httpx.DecodeJSON(r, loginSchema, &req); err != nil {
		httpx.WriteError(w, h.logger, r, err)
		return
	}
	u, err := h.svc.AuthenticatePassword(r.Context(), req.Email, req.Password)
	if err != nil {
		httpx.WriteError(w, h.logger, r, err)
		return
	}
	h.respondWithToken(w, r, http.StatusOK, u)
}

// Me returns the profile of the authenticated caller and the ids of the
// books they may read.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if id == nil {
		httpx.WriteError(w, h.logger, r, apperr.New(apperr.Auth, "Not authorized: missing token"))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"user":           entity.Profile{ID: id.UserID, Name: id.Name, Email: id.Email, Role: id.Role},
		"purchasedBooks": id.Items(),
	})
}

func (h *Handler) respondWithToken(w http.ResponseWriter, r *http.Request, status int, u *entity.User) {
	tok, err := h.tokens.Issue(u.ID, u.Role, u.Version)
	if err != nil {
		httpx.WriteError(w, h.logger, r, err)
		return
	}
	httpx.WriteJSON(w, status, AuthResponse{Token: tok, User: u.Profile()})
}
