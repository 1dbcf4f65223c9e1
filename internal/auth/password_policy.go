// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

package auth

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/samber/oops"

	"github.com/subtrack/subtrack/pkg/errutil"
)

// Password length bounds.
const (
	DefaultPasswordMinLength = 8
	PasswordMaxLength        = 128
)

// commonPasswords holds passwords rejected regardless of length.
var commonPasswords = map[string]struct{}{
	"password":   {},
	"password1":  {},
	"12345678":   {},
	"123456789":  {},
	"1234567890": {},
	"11111111":   {},
	"00000000":   {},
	"qwertyui":   {},
	"qwerty123":  {},
	"qwertyuiop": {},
	"iloveyou":   {},
	"abc12345":   {},
	"abcd1234":   {},
	"letmein1":   {},
	"sunshine":   {},
	"football":   {},
	"baseball":   {},
	"welcome1":   {},
	"admin123":   {},
	"passw0rd":   {},
	"trustno1":   {},
	"princess":   {},
	"dragon12":   {},
	"monkey12":   {},
	"changeme":   {},
}

// PasswordPolicy is the minimum bar a new password must clear.
type PasswordPolicy struct {
	MinLength int
}

// DefaultPasswordPolicy returns the policy used when none is configured.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: DefaultPasswordMinLength}
}

// Validate checks password against the policy. email is the normalized
// account email; a password equal to it is rejected.
func (p PasswordPolicy) Validate(password, email string) error {
	minLen := p.MinLength
	if minLen <= 0 {
		minLen = DefaultPasswordMinLength
	}

	if password == "" {
		return oops.Code("AUTH_PASSWORD_REQUIRED").
			Public("Password is required").
			Wrapf(errutil.ErrValidation, "password is required")
	}

	n := utf8.RuneCountInString(password)
	if n < minLen {
		return oops.Code("AUTH_WEAK_PASSWORD").
			With("min", minLen).
			Public("Password must be at least " + strconv.Itoa(minLen) + " characters").
			Wrapf(errutil.ErrValidation, "password shorter than %d characters", minLen)
	}
	if n > PasswordMaxLength {
		return oops.Code("AUTH_WEAK_PASSWORD").
			With("max", PasswordMaxLength).
			Public("Password is too long").
			Wrapf(errutil.ErrValidation, "password longer than %d characters", PasswordMaxLength)
	}

	lowered := strings.ToLower(password)
	if _, common := commonPasswords[lowered]; common {
		return oops.Code("AUTH_WEAK_PASSWORD").
			Public("Password is too common").
			Wrapf(errutil.ErrValidation, "password is in the common password list")
	}
	if email != "" && lowered == email {
		return oops.Code("AUTH_WEAK_PASSWORD").
			Public("Password must not match the email address").
			Wrapf(errutil.ErrValidation, "password equals email")
	}
	return nil
}
