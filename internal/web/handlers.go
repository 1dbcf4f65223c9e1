// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

package web

import (
	"net/http"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/subtrack/subtrack/internal/auth"
	"github.com/subtrack/subtrack/internal/migration"
	"github.com/subtrack/subtrack/pkg/errutil"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type profileResponse struct {
	User *auth.Profile `json:"user"`
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(w, r, &req, false); err != nil {
		a.fail(w, r, err)
		return
	}

	result, err := a.auth.Register(r.Context(), auth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Client:   clientInfo(r),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, http.StatusCreated, result, "Registration successful")
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req, false); err != nil {
		a.fail(w, r, err)
		return
	}

	result, err := a.auth.Login(r.Context(), auth.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Client:   clientInfo(r),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, http.StatusOK, result, "Login successful")
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(w, r, &req, false); err != nil {
		a.fail(w, r, err)
		return
	}

	pair, err := a.auth.Refresh(r.Context(), req.RefreshToken, clientInfo(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, http.StatusOK, pair, "")
}

func (a *API) profile(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	profile, err := a.auth.GetUserProfile(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, http.StatusOK, profileResponse{User: profile}, "")
}

// logout revokes the presented refresh token. The body is optional and an
// unknown token still succeeds.
func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(w, r, &req, true); err != nil {
		a.fail(w, r, err)
		return
	}

	userID, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	if err := a.auth.Logout(r.Context(), userID, req.RefreshToken); err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, http.StatusOK, nil, "Logged out")
}

// logoutAll revokes every session of the caller.
func (a *API) logoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	n, err := a.auth.LogoutAll(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, http.StatusOK, map[string]int64{"revoked": n}, "Logged out of all sessions")
}

// migrate runs a legacy import. Rejected items are part of a 200 result; a
// rolled-back run answers 500 with the result attached.
func (a *API) migrate(w http.ResponseWriter, r *http.Request) {
	var payload migration.LegacyPayload
	if err := decode(w, r, &payload, false); err != nil {
		a.fail(w, r, err)
		return
	}

	userID, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	result, err := a.migration.MigrateUserData(r.Context(), userID, payload)
	if err != nil {
		if result != nil {
			a.failWithData(w, r, err, result)
			return
		}
		a.fail(w, r, err)
		return
	}
	a.ok(w, http.StatusOK, result, "")
}

func (a *API) migrationStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	status, err := a.migration.GetMigrationStatus(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, http.StatusOK, status, "")
}

func (a *API) clearMigrationFlag(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	if err := a.migration.ClearMigrationFlag(r.Context(), userID); err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, http.StatusOK, nil, "Migration flag cleared")
}

func (a *API) currentUser(w http.ResponseWriter, r *http.Request) (ulid.ULID, bool) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		a.fail(w, r, oops.Code("HTTP_MISSING_USER").
			Public("Authentication required").
			Wrapf(errutil.ErrUnauthorized, "no authenticated user in context"))
	}
	return userID, ok
}
