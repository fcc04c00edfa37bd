// Package backfill computes the time window of potentially-missed messages
// for an account, capped at a maximum lookback so a long outage cannot turn
// into an unbounded catch-up fetch.
package backfill

import "time"

// Window is a half-open fetch interval [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

// Span returns the width of the window.
func (w Window) Span() time.Duration {
	return w.To.Sub(w.From)
}

// ComputeWindow returns the window to fetch given the account's last
// successful check. To is always now. From is lastCheck, unless lastCheck is
// absent or older than maxDays, in which case it is clamped to now-maxDays.
func ComputeWindow(lastCheck *time.Time, maxDays int, now time.Time) Window {
	earliest := now.AddDate(0, 0, -maxDays)

	if lastCheck == nil || lastCheck.Before(earliest) {
		return Window{From: earliest, To: now}
	}
	return Window{From: *lastCheck, To: now}
}
