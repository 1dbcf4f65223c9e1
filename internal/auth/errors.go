// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

package auth

import (
	"fmt"

	"github.com/subtrack/subtrack/pkg/errutil"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = fmt.Errorf("auth: %w", errutil.ErrNotFound)

// ErrEmailTaken is returned by UserRepository.Create when the email is
// already registered.
var ErrEmailTaken = fmt.Errorf("email already registered: %w", errutil.ErrConflict)
