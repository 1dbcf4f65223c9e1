// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

// Package auth implements the subtrack account and session lifecycle.
//
// # Domain Types
//
// Domain types should be created using their constructors:
//   - NewUser - creates a User with a normalized email and validated name
//   - NewSession - creates a Session bound to a user and a refresh token hash
//
// Direct struct initialization bypasses validation and may create invalid state.
// Repository implementations receive pre-validated types from these constructors.
//
// # Tokens
//
// Access tokens are short-lived HS256 JWTs issued by TokenIssuer. Refresh
// tokens are opaque random strings; only their SHA-256 hash is stored, as the
// TokenHash of exactly one Session. Refreshing consumes that Session and
// creates its successor in the same family, so a rotated token can never be
// replayed.
//
// # Services
//
// Service coordinates register, login, refresh, logout, token verification
// and profile reads. It is created with NewService, which validates every
// dependency.
package auth
