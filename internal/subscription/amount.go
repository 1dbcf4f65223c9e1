// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

package subscription

import (
	"math"
	"strconv"
)

// Amounts are stored as NUMERIC(12,2).
const (
	MinAmount = 0.01
	MaxAmount = 9_999_999_999.99
)

// normalizeAmount rounds a to cents and returns a non-empty reason when the
// result cannot be stored.
func normalizeAmount(a float64) (float64, string) {
	if math.IsNaN(a) || math.IsInf(a, 0) || a <= 0 {
		return 0, "amount must be greater than 0"
	}
	cents := math.Round(a * 100)
	switch {
	case cents < 1:
		return 0, "amount must be at least " + strconv.FormatFloat(MinAmount, 'f', 2, 64)
	case cents > MaxAmount*100:
		return 0, "amount must be at most " + strconv.FormatFloat(MaxAmount, 'f', 2, 64)
	}
	return cents / 100, ""
}
