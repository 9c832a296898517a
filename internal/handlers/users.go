package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jjudge-oj/accounts/internal/auth"
	"github.com/jjudge-oj/accounts/internal/services"
	"github.com/jjudge-oj/accounts/types"
)

// multipart framing allowance on top of the picture size limit
const multipartOverhead = 64 << 10

// UserHandler exposes user management endpoints.
type UserHandler struct {
	users          *services.UserService
	maxUploadBytes int64
	logger         *zap.Logger
}

// NewUserHandler constructs a UserHandler. maxUploadBytes bounds a profile
// picture upload.
func NewUserHandler(users *services.UserService, maxUploadBytes int64, logger *zap.Logger) *UserHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserHandler{
		users:          users,
		maxUploadBytes: maxUploadBytes,
		logger:         logger.With(zap.String("component", "handlers.users")),
	}
}

// UserRouter registers user routes on the given router.
func UserRouter(r chi.Router, h *UserHandler) {
	r.Use(RequireAuth)

	r.Group(func(r chi.Router) {
		r.Use(RequireRole(types.RoleAdmin))
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Delete("/{id}", h.Delete)
		r.Patch("/{id}/status", h.ChangeStatus)
	})

	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Put("/{id}/profile-picture", h.UploadProfilePicture)
	r.Get("/{id}/profile-picture", h.ProfilePicture)
}

// List returns one page of users.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	page, okPage := queryInt(r, "page")
	size, okSize := queryInt(r, "size")
	if !okPage || !okSize {
		fields := map[string]string{}
		if !okPage {
			fields["page"] = "Page must be a number"
		}
		if !okSize {
			fields["size"] = "Size must be a number"
		}
		writeValidation(w, fields)
		return
	}

	q := r.URL.Query()
	result, err := h.users.List(r.Context(), services.ListUsersInput{
		Page:      page,
		Size:      size,
		Sort:      q.Get("sort"),
		Direction: q.Get("direction"),
		Keyword:   q.Get("keyword"),
		Status:    q.Get("status"),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writePage(w, "Users retrieved successfully", result)
}

// Create adds a user with an explicit role and status.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req services.CreateUserInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.users.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "User created successfully", user)
}

// Get returns a single user to its owner or an administrator.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorizeTarget(w, r)
	if !ok {
		return
	}

	user, err := h.users.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "User retrieved successfully", user)
}

// Update applies a partial update. Only administrators may change role or
// status.
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorizeTarget(w, r)
	if !ok {
		return
	}

	var req services.UpdateUserInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.TouchesPrivileges() && !isAdmin(r) {
		forbidden(w, msgAccessDenied)
		return
	}

	user, err := h.users.Update(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "User updated successfully", user)
}

// Delete removes a user.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUserID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	if err := h.users.Delete(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "User deleted successfully", nil)
}

// ChangeStatus sets the account status from the status query parameter.
func (h *UserHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUserID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	user, err := h.users.ChangeStatus(r.Context(), id, r.URL.Query().Get("status"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "User status updated successfully", user)
}

// UploadProfilePicture replaces the user's picture with the multipart
// "file" part.
func (h *UserHandler) UploadProfilePicture(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorizeTarget(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxUploadBytes + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeValidation(w, map[string]string{
				"file": "File must be at most " + strconv.FormatInt(h.maxUploadBytes, 10) + " bytes",
			})
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeValidation(w, map[string]string{"file": "File is required"})
		return
	}
	defer file.Close()

	user, err := h.users.SetProfilePicture(r.Context(), id, services.PictureUpload{
		Filename: header.Filename,
		Size:     header.Size,
		Body:     file,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Profile picture updated successfully", user)
}

// ProfilePicture streams the stored picture of a user.
func (h *UserHandler) ProfilePicture(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUserID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	obj, err := h.users.OpenProfilePicture(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	defer obj.Body.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj.Body); err != nil {
		h.logger.Warn("stream profile picture", zap.Int64("user_id", id), zap.Error(err))
	}
}

// authorizeTarget parses the {id} parameter and admits the account owner or
// an administrator.
func (h *UserHandler) authorizeTarget(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := parseUserID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user id")
		return 0, false
	}
	if isAdmin(r) {
		return id, true
	}

	caller, ok := loadCaller(w, r, h.users, h.logger)
	if !ok {
		return 0, false
	}
	if caller.ID != id {
		forbidden(w, msgAccessDenied)
		return 0, false
	}
	return id, true
}

func isAdmin(r *http.Request) bool {
	id, ok := auth.IdentityFrom(r.Context())
	return ok && id.HasRole(types.RoleAdmin)
}
