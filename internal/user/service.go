package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-bookstore/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/auth"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-bookstore/pkg/database"
)

// PasswordHasher defines minimal hashing interface (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (hash string, algo string, err error)
	Verify(hash, pw string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(pw string) (string, string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", "", err
	}
	return string(h), fmt.Sprintf("bcrypt:%d", cost), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// Store is the credential store the service runs on. *repo.UserRepo implements it.
type Store interface {
	Create(ctx context.Context, u *entity.User) (int64, error)
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	GetByID(ctx context.Context, id int64) (*entity.User, error)
	IncrementFailedLogin(ctx context.Context, id int64) (int, error)
	LockIfThreshold(ctx context.Context, id int64, threshold int, lockMinutes int) (bool, error)
	ResetLoginSuccess(ctx context.Context, id int64) error
	UnlockIfExpired(ctx context.Context, id int64) (bool, error)
	PromoteToAdmin(ctx context.Context, email string) (*entity.User, error)
	AccessSet(ctx context.Context, userID int64) ([]string, error)
}

// UserService orchestrates registration, authentication and identity loading.
type UserService struct {
	store  Store
	hasher PasswordHasher
	// configuration knobs
	MaxFailed   int
	LockMinutes int
}

func NewUserService(store Store, hasher PasswordHasher) *UserService {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	return &UserService{store: store, hasher: hasher, MaxFailed: 6, LockMinutes: 15}
}

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrLocked         = errors.New("user locked")
	ErrDisabled       = errors.New("user disabled")
	ErrBadCredentials = errors.New("invalid credentials")
	ErrEmailTaken     = errors.New("email already registered")
)

// Register creates a normal account. The role is always "user".
func (s *UserService) Register(ctx context.Context, name, email, password string) (*entity.User, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" || password == "" {
		return nil, apperr.New(apperr.Validation, "name, email and password are required")
	}
	if n := utf8.RuneCountInString(name); n < 2 || n > 80 {
		return nil, apperr.New(apperr.Validation, "name must be 2-80 characters")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperr.New(apperr.Validation, "email is invalid")
	}
	if len(password) < 6 {
		return nil, apperr.New(apperr.Validation, "password must be at least 6 characters")
	}

	hash, algo, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &entity.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		PasswordAlgo: algo,
		Role:         entity.RoleUser,
		Status:       "active",
		Version:      1,
	}
	if _, err := s.store.Create(ctx, u); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperr.Wrap(apperr.Conflict, "Email is already registered", ErrEmailTaken)
		}
		return nil, err
	}
	return u, nil
}

// AuthenticatePassword checks email + password. Failures count towards a
// temporary lock; unknown emails and bad passwords look the same to callers.
func (s *UserService) AuthenticatePassword(ctx context.Context, email, password string) (*entity.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, apperr.New(apperr.Validation, "email and password are required")
	}

	u, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.Wrap(apperr.Auth, "Invalid credentials", ErrBadCredentials)
		} // avoid user enumeration
		return nil, err
	}

	// Expired lock auto-unlock attempt
	if u.Status == "locked" && u.LockedUntil != nil && u.LockedUntil.Before(time.Now()) {
		if unlocked, _ := s.store.UnlockIfExpired(ctx, u.ID); unlocked {
			u.Status = "active"
			u.LockedUntil = nil
		}
	}

	switch u.Status {
	case "locked":
		return nil, apperr.Wrap(apperr.Forbidden, "Account locked. Try again later.", ErrLocked)
	case "disabled":
		return nil, apperr.Wrap(apperr.Forbidden, "Account disabled", ErrDisabled)
	}

	if u.PasswordHash == "" || !s.hasher.Verify(u.PasswordHash, password) {
		if _, incErr := s.store.IncrementFailedLogin(ctx, u.ID); incErr == nil {
			_, _ = s.store.LockIfThreshold(ctx, u.ID, s.MaxFailed, s.LockMinutes)
		}
		return nil, apperr.Wrap(apperr.Auth, "Invalid credentials", ErrBadCredentials)
	}

	if err := s.store.ResetLoginSuccess(ctx, u.ID); err != nil {
		return nil, err
	}
	return u, nil
}

// PromoteToAdmin grants the admin role to the account with email.
func (s *UserService) PromoteToAdmin(ctx context.Context, email string) (*entity.User, error) {
	u, err := s.store.PromoteToAdmin(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.Wrap(apperr.NotFound, "User not found", ErrUserNotFound)
		}
		return nil, err
	}
	return u, nil
}

// LoadIdentity builds the request identity for the auth middleware: the user
// row plus its access set, read fresh on every request.
func (s *UserService) LoadIdentity(ctx context.Context, userID int64) (*auth.Identity, error) {
	u, err := s.store.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.Auth, "Not authorized: user not found")
		}
		return nil, err
	}
	if u.Status == "disabled" {
		return nil, apperr.New(apperr.Auth, "Not authorized: account disabled")
	}
	items, err := s.store.AccessSet(ctx, userID)
	if err != nil {
		return nil, err
	}
	return auth.NewIdentity(u.ID, u.Name, u.Email, u.Role, u.Version, items), nil
}
