// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/subtrack/subtrack/pkg/errutil"
)

// Field limits for user records.
const (
	MaxEmailLength = 254
	MaxNameLength  = 100
)

// Account defaults applied when a user is created.
const (
	DefaultLanguage = "en"
	DefaultCurrency = "USD"
)

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// User is a registered account. PasswordHash never leaves the service; use
// Profile for anything returned to callers.
type User struct {
	ID           ulid.ULID
	Email        string
	PasswordHash string
	Name         string
	IsVerified   bool
	Language     string
	Currency     string
	Settings     Settings
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile is the public view of a User.
type Profile struct {
	ID         ulid.ULID `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	IsVerified bool      `json:"isVerified"`
	Language   string    `json:"language"`
	Currency   string    `json:"currency"`
	Settings   Settings  `json:"settings"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// NewUser creates a validated User. The email is normalized and the name
// trimmed; passwordHash must already be a hasher output.
func NewUser(email, name, passwordHash string, verified bool) (*User, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID_HASH").Errorf("password hash cannot be empty")
	}

	now := time.Now().UTC()
	return &User{
		ID:           ulid.Make(),
		Email:        email,
		PasswordHash: passwordHash,
		Name:         name,
		IsVerified:   verified,
		Language:     DefaultLanguage,
		Currency:     DefaultCurrency,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Profile returns the public view of the user.
func (u *User) Profile() *Profile {
	return &Profile{
		ID:         u.ID,
		Email:      u.Email,
		Name:       u.Name,
		IsVerified: u.IsVerified,
		Language:   u.Language,
		Currency:   u.Currency,
		Settings:   u.Settings.Clone(),
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}

// NormalizeEmail trims and lower-cases an email so lookups and the unique
// index are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks a normalized email address.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code("AUTH_EMAIL_REQUIRED").
			Public("Email is required").
			Wrapf(errutil.ErrValidation, "email is required")
	}
	if len(email) > MaxEmailLength {
		return oops.Code("AUTH_INVALID_EMAIL").
			With("max", MaxEmailLength).
			Public("Email address is too long").
			Wrapf(errutil.ErrValidation, "email exceeds %d characters", MaxEmailLength)
	}
	if !emailRegex.MatchString(email) {
		return oops.Code("AUTH_INVALID_EMAIL").
			Public("A valid email address is required").
			Wrapf(errutil.ErrValidation, "email is not a valid address")
	}
	return nil
}

// ValidateName checks a trimmed display name.
func ValidateName(name string) error {
	if name == "" {
		return oops.Code("AUTH_NAME_REQUIRED").
			Public("Name is required").
			Wrapf(errutil.ErrValidation, "name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return oops.Code("AUTH_INVALID_NAME").
			With("max", MaxNameLength).
			Public("Name is too long").
			Wrapf(errutil.ErrValidation, "name exceeds %d characters", MaxNameLength)
	}
	return nil
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Create stores a new user. Returns ErrEmailTaken if the email exists.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by normalized email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// LockByID retrieves a user and locks the row until the surrounding
	// transaction ends.
	LockByID(ctx context.Context, id ulid.ULID) (*User, error)

	// UpdatePasswordHash replaces the stored password hash.
	UpdatePasswordHash(ctx context.Context, id ulid.ULID, hash string) error

	// UpdateSettings persists Language, Currency and Settings.
	UpdateSettings(ctx context.Context, user *User) error
}
