// Package auth registers users, verifies passwords and issues the bearer
// tokens the API turns into a models.Actor.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/Skryldev/parkd/db"
	"github.com/Skryldev/parkd/models"
	"github.com/Skryldev/parkd/repo"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid username or password")
	ErrUserExists         = errors.New("auth: username or email already registered")
	ErrTokenInvalid       = errors.New("auth: token invalid or expired")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrForbidden          = errors.New("auth: forbidden")
	ErrUserNotFound       = errors.New("auth: user not found")
)

const (
	minSecretLen   = 16
	minPasswordLen = 8
	// bcrypt ignores everything past 72 bytes.
	maxPasswordLen = 72
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)

// Config configures a Service.
type Config struct {
	Secret string
	TTL    time.Duration
	Issuer string
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	Now        func() time.Time
	Logger     *slog.Logger
}

// Claims is the JWT payload. Subject carries the user id.
type Claims struct {
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Session is what a successful login returns.
type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// RegisterParams is the self-service sign-up form.
type RegisterParams struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Pincode  string `json:"pincode"`
}

// ProfileParams is a self-service profile edit. nil fields are left alone.
// Changing the email or the password needs CurrentPassword.
type ProfileParams struct {
	FullName        *string `json:"full_name"`
	Phone           *string `json:"phone"`
	Pincode         *string `json:"pincode"`
	Email           *string `json:"email"`
	CurrentPassword string  `json:"current_password"`
	NewPassword     string  `json:"new_password"`
}

// Service is safe for concurrent use.
type Service struct {
	db  *db.DB
	cfg Config
	log *slog.Logger
}

// NewService validates cfg and returns a Service.
func NewService(d *db.DB, cfg Config) (*Service, error) {
	if len(cfg.Secret) < minSecretLen {
		return nil, fmt.Errorf("auth: jwt secret must be at least %d bytes", minSecretLen)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "parkd"
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{db: d, cfg: cfg, log: cfg.Logger.With("component", "auth")}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Passwords
// ─────────────────────────────────────────────────────────────────────────────

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(b), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func validateEmail(email string) error {
	if at := strings.IndexByte(email, '@'); at < 1 || at == len(email)-1 {
		return fmt.Errorf("%w: email address is malformed", ErrInvalidInput)
	}
	return nil
}

func validatePassword(password string) error {
	switch {
	case len(password) < minPasswordLen:
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	case len(password) > maxPasswordLen:
		return fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidInput, maxPasswordLen)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Users
// ─────────────────────────────────────────────────────────────────────────────

// Register creates a regular user.
func (s *Service) Register(ctx context.Context, p RegisterParams) (*models.User, error) {
	return s.create(ctx, p, models.RoleRegular)
}

func (s *Service) create(ctx context.Context, p RegisterParams, role models.Role) (*models.User, error) {
	p.Username = strings.TrimSpace(p.Username)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	if !usernamePattern.MatchString(p.Username) {
		return nil, fmt.Errorf("%w: username must be 3-32 letters, digits, '.', '_' or '-'", ErrInvalidInput)
	}
	if err := validateEmail(p.Email); err != nil {
		return nil, err
	}
	if err := validatePassword(p.Password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(p.Password, s.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	u, err := repo.NewUserRepo(s.db).Insert(ctx, models.CreateUserParams{
		Username:     p.Username,
		Email:        p.Email,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(p.FullName),
		Phone:        strings.TrimSpace(p.Phone),
		Pincode:      strings.TrimSpace(p.Pincode),
		Role:         role,
	})
	if db.IsDuplicateKey(err) {
		return nil, ErrUserExists
	}
	if err != nil {
		return nil, fmt.Errorf("auth: create user: %w", err)
	}
	s.log.InfoContext(ctx, "user registered", "user_id", u.ID, "role", u.Role)
	return u, nil
}

// Login checks credentials and issues a token. login may be the username
// or the email address.
func (s *Service) Login(ctx context.Context, login, password string) (*Session, error) {
	users := repo.NewUserRepo(s.db)
	login = strings.TrimSpace(login)

	var (
		u   *models.User
		err error
	)
	if strings.Contains(login, "@") {
		u, err = users.GetByEmail(ctx, strings.ToLower(login))
	} else {
		u, err = users.GetByUsername(ctx, login)
	}
	if db.IsNotFound(err) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("auth: login: %w", err)
	}
	if !CheckPassword(u.PasswordHash, password) {
		s.log.WarnContext(ctx, "login failed", "user_id", u.ID)
		return nil, ErrInvalidCredentials
	}

	token, exp, err := s.IssueToken(u)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: exp, User: u}, nil
}

// EnsureAdmin makes sure an admin account with username exists. An existing
// user is promoted and gets password as its new password. created reports
// whether a new row was inserted.
func (s *Service) EnsureAdmin(ctx context.Context, username, email, password string) (u *models.User, created bool, err error) {
	existing, err := repo.NewUserRepo(s.db).GetByUsername(ctx, strings.TrimSpace(username))
	switch {
	case db.IsNotFound(err):
		u, err = s.create(ctx, RegisterParams{
			Username: username,
			Email:    email,
			Password: password,
			FullName: "Administrator",
		}, models.RoleAdmin)
		return u, err == nil, err
	case err != nil:
		return nil, false, fmt.Errorf("auth: ensure admin: %w", err)
	}

	if err := validatePassword(password); err != nil {
		return nil, false, err
	}
	hash, err := HashPassword(password, s.cfg.BcryptCost)
	if err != nil {
		return nil, false, err
	}
	admin := models.RoleAdmin
	u, err = repo.NewUserRepo(s.db).Update(ctx, models.UpdateUserParams{
		ID:           existing.ID,
		PasswordHash: &hash,
		Role:         &admin,
	})
	if err != nil {
		return nil, false, fmt.Errorf("auth: ensure admin: %w", err)
	}
	s.log.InfoContext(ctx, "admin account refreshed", "user_id", u.ID)
	return u, false, nil
}

// ListUsers pages through all users. Admin only.
func (s *Service) ListUsers(ctx context.Context, actor models.Actor, limit, offset int) ([]*models.User, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset must not be negative", ErrInvalidInput)
	}
	return repo.NewUserRepo(s.db).List(ctx, limit, offset)
}

// GetUser returns a user the actor may see: itself, or anyone for admins.
func (s *Service) GetUser(ctx context.Context, actor models.Actor, id int64) (*models.User, error) {
	if !actor.CanAccess(id) {
		return nil, ErrForbidden
	}
	u, err := repo.NewUserRepo(s.db).GetByID(ctx, id)
	if db.IsNotFound(err) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: get user: %w", err)
	}
	return u, nil
}

// UpdateProfile edits the actor's own account. A wrong current password
// yields ErrInvalidCredentials and changes nothing.
func (s *Service) UpdateProfile(ctx context.Context, actor models.Actor, p ProfileParams) (*models.User, error) {
	users := repo.NewUserRepo(s.db)
	u, err := users.GetByID(ctx, actor.UserID)
	if db.IsNotFound(err) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: update profile: %w", err)
	}

	upd := models.UpdateUserParams{ID: u.ID}
	trim := func(v *string) *string {
		if v == nil {
			return nil
		}
		t := strings.TrimSpace(*v)
		return &t
	}
	upd.FullName, upd.Phone, upd.Pincode = trim(p.FullName), trim(p.Phone), trim(p.Pincode)

	if p.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*p.Email))
		if err := validateEmail(email); err != nil {
			return nil, err
		}
		if email != u.Email {
			upd.Email = &email
		}
	}
	if p.NewPassword != "" {
		if err := validatePassword(p.NewPassword); err != nil {
			return nil, err
		}
		hash, err := HashPassword(p.NewPassword, s.cfg.BcryptCost)
		if err != nil {
			return nil, err
		}
		upd.PasswordHash = &hash
	}
	if (upd.Email != nil || upd.PasswordHash != nil) && !CheckPassword(u.PasswordHash, p.CurrentPassword) {
		s.log.WarnContext(ctx, "profile update rejected", "user_id", u.ID)
		return nil, ErrInvalidCredentials
	}

	u, err = users.Update(ctx, upd)
	if db.IsDuplicateKey(err) {
		return nil, ErrUserExists
	}
	if err != nil {
		return nil, fmt.Errorf("auth: update profile: %w", err)
	}
	s.log.InfoContext(ctx, "profile updated", "user_id", u.ID, "password_changed", upd.PasswordHash != nil)
	return u, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Tokens
// ─────────────────────────────────────────────────────────────────────────────

// IssueToken signs an HS256 token for u.
func (s *Service) IssueToken(u *models.User) (string, time.Time, error) {
	now := s.cfg.Now()
	exp := now.Add(s.cfg.TTL)
	claims := Claims{
		Username: u.Username,
		Role:     u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(u.ID, 10),
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// ParseToken verifies token and returns the actor it names.
func (s *Service) ParseToken(token string) (models.Actor, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.Secret), nil
	},
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithTimeFunc(s.cfg.Now),
	)
	if err != nil {
		return models.Actor{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid || !claims.Role.Valid() {
		return models.Actor{}, ErrTokenInvalid
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return models.Actor{}, ErrTokenInvalid
	}
	return models.Actor{UserID: id, Role: claims.Role}, nil
}
