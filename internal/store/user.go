package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jjudge-oj/accounts/types"
)

const (
	uniqueViolation = "23505"

	usernameIndex = "users_username_lower_key"
	emailIndex    = "users_email_lower_key"
)

const userColumns = `id, username, email, password_hash, full_name, role, status, profile_picture, created_at, updated_at, last_login`

// UserRepository handles persistence for users in Postgres. Username and
// email uniqueness is enforced by unique indexes on their lower-cased values.
type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (types.User, bool, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (types.User, bool, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(username) = lower($1)`, username)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, bool, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

func (r *UserRepository) getOne(ctx context.Context, query string, args ...any) (types.User, bool, error) {
	var user types.User
	if err := r.db.GetContext(ctx, &user, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, false, nil
		}
		return types.User{}, false, err
	}
	return user, true, nil
}

func (r *UserRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM users WHERE lower(username) = lower($1))`, username)
	return exists, err
}

func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM users WHERE lower(email) = lower($1))`, email)
	return exists, err
}

// List returns one page of users matching filter. Unknown sort fields fall
// back to id; ties are broken by id so pages are stable.
func (r *UserRepository) List(ctx context.Context, filter types.UserFilter) (types.Page[types.User], error) {
	filter = normalizeFilter(filter)

	var (
		where []string
		args  []any
	)
	if filter.Keyword != "" {
		pattern := "%" + escapeLike(strings.ToLower(filter.Keyword)) + "%"
		where = append(where, `(lower(username) LIKE ? OR lower(email) LIKE ? OR lower(full_name) LIKE ?)`)
		args = append(args, pattern, pattern, pattern)
	}
	if filter.Status != "" {
		where = append(where, `status = ?`)
		args = append(args, string(filter.Status))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, r.db.Rebind(`SELECT COUNT(1) FROM users`+clause), args...); err != nil {
		return types.Page[types.User]{}, err
	}

	order := fmt.Sprintf(" ORDER BY %s %s", sortColumns[filter.Sort], filter.Direction)
	if filter.Sort != DefaultSortField {
		order += ", id ASC"
	}
	listQuery := r.db.Rebind(`SELECT ` + userColumns + ` FROM users` + clause + order + ` LIMIT ? OFFSET ?`)
	users := make([]types.User, 0, filter.Size)
	if err := r.db.SelectContext(ctx, &users, listQuery, append(args, filter.Size, filter.Offset())...); err != nil {
		return types.Page[types.User]{}, err
	}

	return types.Page[types.User]{
		Items:         users,
		Page:          filter.Page,
		Size:          filter.Size,
		TotalElements: total,
	}, nil
}

// Create inserts user and returns it with its assigned ID and timestamps.
func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	const query = `
		INSERT INTO users (username, email, password_hash, full_name, role, status, profile_picture, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	if err := r.db.QueryRowxContext(
		ctx,
		query,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.FullName,
		user.Role,
		user.Status,
		user.ProfilePicture,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID); err != nil {
		return types.User{}, mapWriteError(err)
	}
	return user, nil
}

// Update writes every mutable column of user. CreatedAt and LastLogin are
// left untouched.
func (r *UserRepository) Update(ctx context.Context, user types.User) (types.User, error) {
	user.UpdatedAt = time.Now().UTC()

	const query = `
		UPDATE users
		SET username = $1,
			email = $2,
			password_hash = $3,
			full_name = $4,
			role = $5,
			status = $6,
			profile_picture = $7,
			updated_at = $8
		WHERE id = $9`
	result, err := r.db.ExecContext(
		ctx,
		query,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.FullName,
		user.Role,
		user.Status,
		user.ProfilePicture,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		return types.User{}, mapWriteError(err)
	}
	if err := expectAffected(result); err != nil {
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `UPDATE users SET last_login = $1 WHERE id = $2`, at, id)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

func expectAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// mapWriteError translates unique-index violations into duplicate errors.
func mapWriteError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return err
	}
	switch pqErr.Constraint {
	case usernameIndex:
		return ErrDuplicateUsername
	case emailIndex:
		return ErrDuplicateEmail
	default:
		return err
	}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
