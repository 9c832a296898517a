package services

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/jjudge-oj/accounts/internal/apperr"
	"github.com/jjudge-oj/accounts/internal/auth"
	"github.com/jjudge-oj/accounts/internal/events"
	"github.com/jjudge-oj/accounts/internal/store"
	"github.com/jjudge-oj/accounts/types"
)

const (
	maxPageSize     = 100
	defaultPageSize = 10

	msgUserNotFound    = "User not found"
	msgUsernameTaken   = "Username already exists"
	msgEmailTaken      = "Email already exists"
	msgUnexpectedStore = "user store failure"
)

// UserRepository defines persistence operations for users. Create and Update
// must reject duplicate usernames and emails themselves; the existence checks
// below only short-circuit the common case.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (types.User, bool, error)
	GetByUsername(ctx context.Context, username string) (types.User, bool, error)
	GetByEmail(ctx context.Context, email string) (types.User, bool, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	List(ctx context.Context, filter types.UserFilter) (types.Page[types.User], error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
	Delete(ctx context.Context, id int64) error
}

// RegisterInput is the self-service sign-up payload.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
}

// CreateUserInput is the administrative create payload. Empty role and
// status default to USER and ACTIVE.
type CreateUserInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
	Status   string `json:"status"`
}

// UpdateUserInput is a partial update; nil fields are left unchanged and an
// empty password keeps the current one.
type UpdateUserInput struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
	Password *string `json:"password"`
	FullName *string `json:"fullName"`
	Role     *string `json:"role"`
	Status   *string `json:"status"`
}

// TouchesPrivileges reports whether the update changes role or status.
func (in UpdateUserInput) TouchesPrivileges() bool {
	return in.Role != nil || in.Status != nil
}

// ListUsersInput carries raw paging parameters.
type ListUsersInput struct {
	Page      int
	Size      int
	Sort      string
	Direction string
	Keyword   string
	Status    string
}

// UserService encapsulates user use-cases.
type UserService struct {
	repo     UserRepository
	hasher   auth.PasswordHasher
	pictures PictureStore
	maxBytes int64
	events   events.Publisher
	logger   *zap.Logger
}

// UserServiceOption customizes a UserService.
type UserServiceOption func(*UserService)

// WithEvents publishes user lifecycle events through p.
func WithEvents(p events.Publisher) UserServiceOption {
	return func(s *UserService) {
		s.events = p
	}
}

func WithLogger(logger *zap.Logger) UserServiceOption {
	return func(s *UserService) {
		if logger != nil {
			s.logger = logger.With(zap.String("component", "services.user"))
		}
	}
}

func NewUserService(repo UserRepository, hasher auth.PasswordHasher, opts ...UserServiceOption) *UserService {
	s := &UserService{
		repo:   repo,
		hasher: hasher,
		events: events.Nop{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an ACTIVE account with role USER.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (types.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)

	fields := fieldErrors{}
	fields.check("username", validateUsername(in.Username))
	fields.check("email", validateEmail(in.Email))
	fields.check("password", validatePassword(in.Password))
	fields.check("fullName", validateFullName(in.FullName))
	if len(fields) > 0 {
		return types.User{}, apperr.Validation(fields)
	}

	user := types.User{
		Username: in.Username,
		Email:    in.Email,
		FullName: in.FullName,
		Role:     types.RoleUser,
		Status:   types.StatusActive,
	}
	return s.create(ctx, user, in.Password, events.UserRegistered)
}

// Create adds a user with an explicit role and status.
func (s *UserService) Create(ctx context.Context, in CreateUserInput) (types.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)

	fields := fieldErrors{}
	fields.check("username", validateUsername(in.Username))
	fields.check("email", validateEmail(in.Email))
	fields.check("password", validatePassword(in.Password))
	fields.check("fullName", validateFullName(in.FullName))

	role, status := types.RoleUser, types.StatusActive
	if strings.TrimSpace(in.Role) != "" {
		var msg string
		role, msg = parseRole(in.Role)
		fields.check("role", msg)
	}
	if strings.TrimSpace(in.Status) != "" {
		var msg string
		status, msg = parseStatus(in.Status)
		fields.check("status", msg)
	}
	if len(fields) > 0 {
		return types.User{}, apperr.Validation(fields)
	}

	user := types.User{
		Username: in.Username,
		Email:    in.Email,
		FullName: in.FullName,
		Role:     role,
		Status:   status,
	}
	return s.create(ctx, user, in.Password, events.UserCreated)
}

func (s *UserService) create(ctx context.Context, user types.User, password string, evt events.Type) (types.User, error) {
	taken, err := s.repo.ExistsByUsername(ctx, user.Username)
	if err != nil {
		return types.User{}, apperr.Internal(msgUnexpectedStore, err)
	}
	if taken {
		return types.User{}, apperr.Conflict(msgUsernameTaken)
	}
	taken, err = s.repo.ExistsByEmail(ctx, user.Email)
	if err != nil {
		return types.User{}, apperr.Internal(msgUnexpectedStore, err)
	}
	if taken {
		return types.User{}, apperr.Conflict(msgEmailTaken)
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return types.User{}, apperr.Internal("hash password", err)
	}
	user.PasswordHash = digest

	created, err := s.repo.Create(ctx, user)
	if err != nil {
		return types.User{}, mapStoreError(err)
	}
	s.logger.Info("user created",
		zap.Int64("user_id", created.ID),
		zap.String("username", created.Username),
		zap.String("role", string(created.Role)),
	)
	s.events.Publish(ctx, events.ForUser(evt, created))
	return created, nil
}

func (s *UserService) Get(ctx context.Context, id int64) (types.User, error) {
	user, found, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.User{}, apperr.Internal(msgUnexpectedStore, err)
	}
	if !found {
		return types.User{}, apperr.NotFound(msgUserNotFound)
	}
	return user, nil
}

func (s *UserService) GetByUsername(ctx context.Context, username string) (types.User, error) {
	user, found, err := s.repo.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return types.User{}, apperr.Internal(msgUnexpectedStore, err)
	}
	if !found {
		return types.User{}, apperr.NotFound(msgUserNotFound)
	}
	return user, nil
}

// List returns one page of users. Page is zero-based; size defaults to 10 and
// is capped at 100.
func (s *UserService) List(ctx context.Context, in ListUsersInput) (types.Page[types.User], error) {
	fields := fieldErrors{}
	if in.Page < 0 {
		fields.add("page", "Page must not be negative")
	}
	switch {
	case in.Size == 0:
		in.Size = defaultPageSize
	case in.Size < 0:
		fields.add("size", "Size must be positive")
	case in.Size > maxPageSize:
		in.Size = maxPageSize
	}
	if in.Size > 0 && in.Page > types.MaxPage(in.Size) {
		fields.add("page", "Page is out of range")
	}
	sort := strings.TrimSpace(in.Sort)
	if sort == "" {
		sort = store.DefaultSortField
	} else if !store.IsSortable(sort) {
		fields.add("sort", "Unsupported sort field")
	}
	direction, ok := store.NormalizeDirection(in.Direction)
	if !ok {
		fields.add("direction", "Direction must be ASC or DESC")
	}
	var status types.Status
	if strings.TrimSpace(in.Status) != "" {
		var msg string
		status, msg = parseStatus(in.Status)
		fields.check("status", msg)
	}
	if len(fields) > 0 {
		return types.Page[types.User]{}, apperr.Validation(fields)
	}

	page, err := s.repo.List(ctx, types.UserFilter{
		Page:      in.Page,
		Size:      in.Size,
		Sort:      sort,
		Direction: direction,
		Keyword:   strings.TrimSpace(in.Keyword),
		Status:    status,
	})
	if err != nil {
		return types.Page[types.User]{}, apperr.Internal("list users", err)
	}
	return page, nil
}

// Update applies a partial update. Username and email changes are checked
// for uniqueness against other users; a case-only change of one's own
// username is allowed.
func (s *UserService) Update(ctx context.Context, id int64, in UpdateUserInput) (types.User, error) {
	user, err := s.Get(ctx, id)
	if err != nil {
		return types.User{}, err
	}

	fields := fieldErrors{}
	if in.Username != nil {
		username := strings.TrimSpace(*in.Username)
		fields.check("username", validateUsername(username))
		user.Username = username
	}
	if in.Email != nil {
		email := strings.TrimSpace(*in.Email)
		fields.check("email", validateEmail(email))
		user.Email = email
	}
	password := ""
	if in.Password != nil && *in.Password != "" {
		password = *in.Password
		fields.check("password", validatePassword(password))
	}
	if in.FullName != nil {
		fullName := strings.TrimSpace(*in.FullName)
		fields.check("fullName", validateFullName(fullName))
		user.FullName = fullName
	}
	if in.Role != nil {
		role, msg := parseRole(*in.Role)
		fields.check("role", msg)
		user.Role = role
	}
	if in.Status != nil {
		status, msg := parseStatus(*in.Status)
		fields.check("status", msg)
		user.Status = status
	}
	if len(fields) > 0 {
		return types.User{}, apperr.Validation(fields)
	}

	if in.Username != nil {
		if err := s.ensureFree(ctx, s.repo.GetByUsername, user.Username, id, msgUsernameTaken); err != nil {
			return types.User{}, err
		}
	}
	if in.Email != nil {
		if err := s.ensureFree(ctx, s.repo.GetByEmail, user.Email, id, msgEmailTaken); err != nil {
			return types.User{}, err
		}
	}
	if password != "" {
		digest, err := s.hasher.Hash(password)
		if err != nil {
			return types.User{}, apperr.Internal("hash password", err)
		}
		user.PasswordHash = digest
	}

	updated, err := s.repo.Update(ctx, user)
	if err != nil {
		return types.User{}, mapStoreError(err)
	}
	s.events.Publish(ctx, events.ForUser(events.UserUpdated, updated))
	return updated, nil
}

type lookupFunc func(ctx context.Context, key string) (types.User, bool, error)

func (s *UserService) ensureFree(ctx context.Context, lookup lookupFunc, key string, selfID int64, conflict string) error {
	other, found, err := lookup(ctx, key)
	if err != nil {
		return apperr.Internal(msgUnexpectedStore, err)
	}
	if found && other.ID != selfID {
		return apperr.Conflict(conflict)
	}
	return nil
}

// ChangeStatus sets the account status; raw is matched case-insensitively.
func (s *UserService) ChangeStatus(ctx context.Context, id int64, raw string) (types.User, error) {
	status, msg := parseStatus(raw)
	if msg != "" {
		return types.User{}, apperr.Validation(map[string]string{"status": msg})
	}
	user, err := s.Get(ctx, id)
	if err != nil {
		return types.User{}, err
	}
	user.Status = status
	updated, err := s.repo.Update(ctx, user)
	if err != nil {
		return types.User{}, mapStoreError(err)
	}
	s.logger.Info("user status changed",
		zap.Int64("user_id", updated.ID),
		zap.String("status", string(status)),
	)
	s.events.Publish(ctx, events.ForUser(events.UserStatusChanged, updated).With("status", string(status)))
	return updated, nil
}

// Delete removes the user and, best-effort, their profile picture.
func (s *UserService) Delete(ctx context.Context, id int64) error {
	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return mapStoreError(err)
	}
	if user.ProfilePicture != "" {
		s.removePicture(ctx, user.ProfilePicture)
	}
	s.logger.Info("user deleted", zap.Int64("user_id", id))
	s.events.Publish(ctx, events.ForUser(events.UserDeleted, user))
	return nil
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, store.ErrDuplicateUsername):
		return apperr.Conflict(msgUsernameTaken)
	case errors.Is(err, store.ErrDuplicateEmail):
		return apperr.Conflict(msgEmailTaken)
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound(msgUserNotFound)
	default:
		return apperr.Internal(msgUnexpectedStore, err)
	}
}
