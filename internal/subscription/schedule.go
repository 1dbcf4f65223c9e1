// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

package subscription

import "time"

// NextPaymentDate returns the first payment date strictly after the UTC
// date of now. Dates are UTC midnights.
//
// Monthly, quarterly and yearly payments fall on day in the current month
// and every 1, 3 or 12 months after, clamped to the month's last day.
// Weekly payments are anchored on the current month's clamped day and
// repeat every 7 days in both directions.
func NextPaymentDate(now time.Time, cycle BillingCycle, day int) time.Time {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	anchor := clampedDate(today.Year(), today.Month(), day)

	if cycle == Weekly {
		const week = 7 * 24 * time.Hour
		for !anchor.After(today) {
			anchor = anchor.Add(week)
		}
		for prev := anchor.Add(-week); prev.After(today); prev = anchor.Add(-week) {
			anchor = prev
		}
		return anchor
	}

	step := monthsPerCycle(cycle)
	for k := 1; !anchor.After(today); k++ {
		anchor = clampedDate(today.Year(), today.Month()+time.Month(k*step), day)
	}
	return anchor
}

func monthsPerCycle(cycle BillingCycle) int {
	switch cycle {
	case Quarterly:
		return 3
	case Yearly:
		return 12
	default:
		return 1
	}
}

// clampedDate returns day of the given month, or its last day if the month
// is shorter. month may overflow into following years.
func clampedDate(year int, month time.Month, day int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	return first.AddDate(0, 0, min(day, last)-1)
}
