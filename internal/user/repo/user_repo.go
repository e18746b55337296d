package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

// ErrDuplicateEmail is returned when the users.email unique index rejects a write.
var ErrDuplicateEmail = errors.New("duplicate email")

const userColumns = `id, email, name, password_hash, password_salt, created_at, updated_at`

// UserRepo provides data access for users table using sqlx.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

// Create inserts u, assigning an id when empty and filling the timestamps.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) error {
	if u.ID == "" {
		u.ID = utilities.NewKSUID()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	const q = `INSERT INTO users (id, email, name, password_hash, password_salt, created_at, updated_at)
		VALUES (:id, :email, :name, :password_hash, :password_salt, :created_at, :updated_at)`
	ctx, cancel := context.WithTimeout(ctx, database.DefaultTimeout)
	defer cancel()
	if _, err := r.db.NamedExecContext(ctx, q, u); err != nil {
		if database.IsUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return database.Unavailable("create user", err)
	}
	return nil
}

// GetByEmail returns the user with exactly this email, or nil when absent.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	u, err := database.GetOne[entity.User](ctx, r.db, `SELECT `+userColumns+` FROM users WHERE email=$1`, email)
	if err != nil {
		return nil, database.Unavailable("get user by email", err)
	}
	return u, nil
}

// GetByID returns the user by id, or nil when absent.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*entity.User, error) {
	u, err := database.GetOne[entity.User](ctx, r.db, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
	if err != nil {
		return nil, database.Unavailable("get user by id", err)
	}
	return u, nil
}

// Update applies the non-nil fields of p and returns the updated row, or nil
// when id is unknown.
func (r *UserRepo) Update(ctx context.Context, id string, p entity.Patch) (*entity.User, error) {
	if p.Empty() {
		return r.GetByID(ctx, id)
	}
	sets := make([]string, 0, 5)
	args := make([]any, 0, 5)
	add := func(col string, v *string) {
		if v == nil {
			return
		}
		args = append(args, *v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	add("email", p.Email)
	add("name", p.Name)
	add("password_hash", p.PasswordHash)
	add("password_salt", p.PasswordSalt)
	args = append(args, id)

	q := `UPDATE users SET ` + strings.Join(sets, ", ") + `, updated_at=NOW() WHERE id=$` +
		fmt.Sprint(len(args)) + ` RETURNING ` + userColumns
	u, err := database.GetOne[entity.User](ctx, r.db, q, args...)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, database.Unavailable("update user", err)
	}
	return u, nil
}
