package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jjudge-oj/accounts/internal/apperr"
	"github.com/jjudge-oj/accounts/internal/auth"
	"github.com/jjudge-oj/accounts/internal/events"
	"github.com/jjudge-oj/accounts/internal/services"
	"github.com/jjudge-oj/accounts/types"
)

// AuthHandler provides the register, login and current-user endpoints.
type AuthHandler struct {
	users         *services.UserService
	authenticator *auth.Authenticator
	codec         *auth.Codec
	tokenType     string
	events        events.Publisher
	logger        *zap.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(
	users *services.UserService,
	authenticator *auth.Authenticator,
	codec *auth.Codec,
	tokenPrefix string,
	publisher events.Publisher,
	logger *zap.Logger,
) *AuthHandler {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{
		users:         users,
		authenticator: authenticator,
		codec:         codec,
		tokenType:     strings.TrimSpace(tokenPrefix),
		events:        publisher,
		logger:        logger.With(zap.String("component", "handlers.auth")),
	}
}

// AuthRouter registers auth routes on the given router. limit, when not
// nil, guards the credential endpoints.
func AuthRouter(r chi.Router, h *AuthHandler, limit func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		if limit != nil {
			r.Use(limit)
		}
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
	})
	r.With(RequireAuth).Get("/me", h.Me)
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	TokenType   string     `json:"tokenType"`
	AccessToken string     `json:"accessToken"`
	ExpiresIn   int64      `json:"expiresIn"`
	User        types.User `json:"user"`
}

// Register creates an ACTIVE account with role USER.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req services.RegisterInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.users.Register(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "User registered successfully", user)
}

// Login verifies credentials and returns an access token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	fields := map[string]string{}
	if req.Username == "" {
		fields["username"] = "Username is required"
	}
	if req.Password == "" {
		fields["password"] = "Password is required"
	}
	if len(fields) > 0 {
		writeValidation(w, fields)
		return
	}

	user, err := h.authenticator.Authenticate(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrBadCredentials):
		Unauthorized(w, "Bad credentials")
		return
	case errors.Is(err, auth.ErrAccountDisabled):
		forbidden(w, "Account is not active")
		return
	case err != nil:
		writeServiceError(w, r, h.logger, err)
		return
	}

	token, err := h.codec.Issue(user)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	h.events.Publish(r.Context(), events.ForUser(events.UserLoggedIn, user))
	writeSuccess(w, http.StatusOK, "Login successful", LoginResponse{
		TokenType:   h.tokenType,
		AccessToken: token,
		ExpiresIn:   int64(h.codec.ExpiresIn().Seconds()),
		User:        user,
	})
}

// Me returns the account of the authenticated caller.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := loadCaller(w, r, h.users, h.logger)
	if !ok {
		return
	}
	writeSuccess(w, http.StatusOK, "User retrieved successfully", user)
}

// loadCaller loads the account behind the request identity. A token for a
// since-deleted account is treated as unauthenticated.
func loadCaller(w http.ResponseWriter, r *http.Request, users *services.UserService, logger *zap.Logger) (types.User, bool) {
	ctx := r.Context()
	id, ok := auth.IdentityFrom(ctx)
	if !ok {
		Unauthorized(w, reasonAuthRequired)
		return types.User{}, false
	}
	user, err := users.GetByUsername(ctx, id.Username)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			Unauthorized(w, reasonAuthRequired)
			return types.User{}, false
		}
		writeServiceError(w, r, logger, err)
		return types.User{}, false
	}
	return user, true
}
