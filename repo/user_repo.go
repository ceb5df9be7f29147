package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Skryldev/parkd/db"
	"github.com/Skryldev/parkd/models"
)

// UserRepository persists accounts. Auth is the main consumer; the engine
// only counts users and removes them.
type UserRepository interface {
	Insert(ctx context.Context, params models.CreateUserParams) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	List(ctx context.Context, limit, offset int) ([]*models.User, error)
	Update(ctx context.Context, params models.UpdateUserParams) (*models.User, error)
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int64, error)
	CountByRole(ctx context.Context, role models.Role) (int64, error)
}

type userRepo struct {
	q db.Querier
}

// NewUserRepo returns a UserRepository on q, a *db.DB or a *db.Tx.
func NewUserRepo(q db.Querier) UserRepository {
	return &userRepo{q: q}
}

const (
	sqlSelectUser = `
		SELECT id, username, email, password_hash, full_name, phone, pincode, role, created_at, updated_at
		FROM   users`

	sqlInsertUser = `
		INSERT INTO users (username, email, password_hash, full_name, phone, pincode, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlListUsers = sqlSelectUser + `
		ORDER  BY id
		LIMIT  ? OFFSET ?`

	sqlCountUsers = `SELECT COUNT(*) FROM users WHERE (? OR role = ?)`
)

// Insert stores a new account, defaulting the role to regular. A taken
// username or email yields db.ErrDuplicateKey.
func (r *userRepo) Insert(ctx context.Context, params models.CreateUserParams) (*models.User, error) {
	role := params.Role
	if role == "" {
		role = models.RoleRegular
	}
	now := time.Now().UTC()
	id, err := db.InsertID(ctx, r.q, sqlInsertUser,
		params.Username, params.Email, params.PasswordHash,
		params.FullName, params.Phone, params.Pincode, string(role), now, now)
	if err != nil {
		return nil, fmt.Errorf("repo/user: insert: %w", err)
	}
	return r.GetByID(ctx, id)
}

// GetByID returns db.ErrNotFound when no account has id.
func (r *userRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return r.getBy(ctx, "id", id)
}

func (r *userRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getBy(ctx, "username", username)
}

// GetByEmail expects the address already lower-cased.
func (r *userRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getBy(ctx, "email", email)
}

// getBy looks a user up by one unique column. column is always a literal.
func (r *userRepo) getBy(ctx context.Context, column string, value any) (*models.User, error) {
	return scanUser(r.q.QueryRow(ctx, sqlSelectUser+` WHERE `+column+` = ?`, value).Scan)
}

// List pages through accounts in id order.
func (r *userRepo) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	rows, err := r.q.Query(ctx, sqlListUsers, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("repo/user: list: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Update writes the non-nil fields of params and returns the fresh row.
func (r *userRepo) Update(ctx context.Context, params models.UpdateUserParams) (*models.User, error) {
	var p patch
	setIf(&p, "email", params.Email)
	setIf(&p, "password_hash", params.PasswordHash)
	setIf(&p, "full_name", params.FullName)
	setIf(&p, "phone", params.Phone)
	setIf(&p, "pincode", params.Pincode)
	if params.Role != nil {
		p.set("role", string(*params.Role))
	}
	if !p.empty() {
		if err := p.apply(ctx, r.q, "users", params.ID); err != nil {
			return nil, fmt.Errorf("repo/user: update: %w", err)
		}
	}
	return r.GetByID(ctx, params.ID)
}

// Delete removes the account row. Reservations referencing it must be
// detached first or the foreign key rejects the delete.
func (r *userRepo) Delete(ctx context.Context, id int64) error {
	n, err := db.RowsAffected(ctx, r.q, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("repo/user: delete: %w", err)
	}
	if n == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *userRepo) Count(ctx context.Context) (int64, error) {
	return r.count(ctx, "")
}

func (r *userRepo) CountByRole(ctx context.Context, role models.Role) (int64, error) {
	return r.count(ctx, role)
}

// count counts every account when role is empty.
func (r *userRepo) count(ctx context.Context, role models.Role) (int64, error) {
	var n int64
	if err := r.q.QueryRow(ctx, sqlCountUsers, role == "", string(role)).Scan(&n); err != nil {
		return 0, fmt.Errorf("repo/user: count: %w", err)
	}
	return n, nil
}

func scanUser(scan func(dest ...any) error) (*models.User, error) {
	u := &models.User{}
	var role string
	err := scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash,
		&u.FullName, &u.Phone, &u.Pincode, &role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("repo/user: %w", err)
	}
	u.Role = models.Role(role)
	return u, nil
}

var _ UserRepository = (*userRepo)(nil)
