package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/account-api/internal/models"
)

// ErrDuplicate is returned when a write violates the username or email uniqueness constraint.
var ErrDuplicate = errors.New("duplicate user")

const uniqueViolation = "23505"

const userColumns = `id, username, email, full_name, avatar, cover_image, password_hash, refresh_token, created_at, updated_at`

// QueryObserver receives the duration of each repository query.
type QueryObserver interface {
	ObserveDBQuery(label string, duration time.Duration)
}

// UserRepository provides database access for user accounts.
type UserRepository struct {
	db       *sqlx.DB
	observer QueryObserver
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB, observer QueryObserver) *UserRepository {
	return &UserRepository{db: db, observer: observer}
}

func (r *UserRepository) observe(label string, start time.Time) {
	if r.observer != nil {
		r.observer.ObserveDBQuery(label, time.Since(start))
	}
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	defer r.observe("find_user_by_id", time.Now())
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// FindByUsernameOrEmail returns the first user matching either non-empty identifier.
func (r *UserRepository) FindByUsernameOrEmail(ctx context.Context, username, email string) (*models.User, error) {
	defer r.observe("find_user_by_username_or_email", time.Now())
	query := `SELECT ` + userColumns + ` FROM users WHERE ($1 <> '' AND username = $1) OR ($2 <> '' AND email = $2) LIMIT 1`
	var user models.User
	username = strings.ToLower(strings.TrimSpace(username))
	email = strings.ToLower(strings.TrimSpace(email))
	if err := r.db.GetContext(ctx, &user, query, username, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by username or email: %w", err)
	}
	return &user, nil
}

// Create inserts a new user.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	defer r.observe("create_user", time.Now())
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	const query = `INSERT INTO users (id, username, email, full_name, avatar, cover_image, password_hash, created_at, updated_at) VALUES (:id, :username, :email, :full_name, :avatar, :cover_image, :password_hash, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// UpdateAccount writes the provided contact fields and returns the updated user.
func (r *UserRepository) UpdateAccount(ctx context.Context, id string, update models.AccountUpdate) (*models.User, error) {
	defer r.observe("update_account", time.Now())
	sets := make([]string, 0, 3)
	args := []interface{}{id}
	if update.Email != nil {
		args = append(args, strings.ToLower(strings.TrimSpace(*update.Email)))
		sets = append(sets, fmt.Sprintf("email = $%d", len(args)))
	}
	if update.FullName != nil {
		args = append(args, strings.TrimSpace(*update.FullName))
		sets = append(sets, fmt.Sprintf("full_name = $%d", len(args)))
	}
	if len(sets) == 0 {
		return r.FindByID(ctx, id)
	}
	args = append(args, time.Now().UTC())
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))

	query := fmt.Sprintf("UPDATE users SET %s WHERE id = $1 RETURNING %s", strings.Join(sets, ", "), userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("update account: %w", err)
	}
	return &user, nil
}

// UpdateAvatar stores a new avatar URL and returns the updated user.
func (r *UserRepository) UpdateAvatar(ctx context.Context, id, url string) (*models.User, error) {
	return r.updateImage(ctx, "avatar", id, url)
}

// UpdateCoverImage stores a new cover image URL and returns the updated user.
func (r *UserRepository) UpdateCoverImage(ctx context.Context, id, url string) (*models.User, error) {
	return r.updateImage(ctx, "cover_image", id, url)
}

func (r *UserRepository) updateImage(ctx context.Context, column, id, url string) (*models.User, error) {
	defer r.observe("update_"+column, time.Now())
	query := fmt.Sprintf("UPDATE users SET %s = $2, updated_at = $3 WHERE id = $1 RETURNING %s", column, userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id, url, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("update %s: %w", column, err)
	}
	return &user, nil
}

// UpdatePassword updates the stored password hash. With revokeRefresh the
// stored refresh token is cleared in the same statement.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time, revokeRefresh bool) error {
	defer r.observe("update_password", time.Now())
	query := `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`
	if revokeRefresh {
		query = `UPDATE users SET password_hash = $2, updated_at = $3, refresh_token = NULL WHERE id = $1`
	}
	if _, err := r.db.ExecContext(ctx, query, id, passwordHash, updatedAt); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// UpdateRefreshToken replaces the stored refresh token. A nil token clears it.
func (r *UserRepository) UpdateRefreshToken(ctx context.Context, id string, token *string) error {
	defer r.observe("update_refresh_token", time.Now())
	const query = `UPDATE users SET refresh_token = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, token); err != nil {
		return fmt.Errorf("update refresh token: %w", err)
	}
	return nil
}

// RotateRefreshToken swaps expected for next in a single statement. It reports
// false when the stored value no longer equals expected.
func (r *UserRepository) RotateRefreshToken(ctx context.Context, id, expected, next string) (bool, error) {
	defer r.observe("rotate_refresh_token", time.Now())
	const query = `UPDATE users SET refresh_token = $3 WHERE id = $1 AND refresh_token = $2`
	res, err := r.db.ExecContext(ctx, query, id, expected, next)
	if err != nil {
		return false, fmt.Errorf("rotate refresh token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rotate refresh token rows: %w", err)
	}
	return affected == 1, nil
}

// CreateAuditLog stores an audit log entry.
func (r *UserRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	defer r.observe("create_audit_log", time.Now())
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, new_values, ip_address, user_agent, created_at) VALUES (:id, :user_id, :action, :resource, :resource_id, :new_values, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
