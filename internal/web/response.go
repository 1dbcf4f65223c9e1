// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/samber/oops"

	"github.com/subtrack/subtrack/pkg/errutil"
)

// maxBodyBytes caps request bodies. Legacy payloads are the largest input.
const maxBodyBytes = 4 << 20

// envelope is the body of every API response. Error is the machine code of
// the error kind; Message is safe to show to users.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

var defaultMessages = map[errutil.Kind]string{
	errutil.KindValidation:   "Invalid request",
	errutil.KindConflict:     "Resource already exists",
	errutil.KindUnauthorized: "Authentication required",
	errutil.KindNotFound:     "Not found",
	errutil.KindRateLimited:  "Too many requests",
}

const msgInternal = "Internal server error"

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(body)
}

func (a *API) ok(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, envelope{Success: true, Data: data, Message: message})
}

// fail writes err as an error envelope. Internal and persistence failures
// get a fixed message; their details only go to the log.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	a.failWithData(w, r, err, nil)
}

func (a *API) failWithData(w http.ResponseWriter, r *http.Request, err error, data any) {
	kind := errutil.KindOf(err)
	status := kind.HTTPStatus()

	message := msgInternal
	if status < http.StatusInternalServerError {
		message = oops.GetPublic(err, defaultMessages[kind])
		a.logger.DebugContext(r.Context(), "request rejected",
			"path", r.URL.Path,
			"status", status,
			"error", err.Error(),
		)
	} else {
		errutil.LogErrorContext(r.Context(), a.logger, "request failed", err)
	}

	if kind == errutil.KindRateLimited {
		if d, ok := errutil.RetryAfter(err); ok {
			w.Header().Set("Retry-After", retryAfterSeconds(d))
		}
	}

	writeJSON(w, status, envelope{Success: false, Data: data, Message: message, Error: kind.String()})
}

func retryAfterSeconds(d time.Duration) string {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

// decode reads a JSON body into v. An empty body leaves v untouched when
// optional is set.
func decode(w http.ResponseWriter, r *http.Request, v any, optional bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return oops.Code("HTTP_INVALID_BODY").
			With("reason", err.Error()).
			Public("Request body must be valid JSON").
			Wrapf(errutil.ErrValidation, "decode request body")
	}
	return nil
}

// discardLogger is used when no logger is configured.
func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
