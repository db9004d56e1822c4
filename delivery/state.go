package delivery

import (
	"fmt"
	"time"
)

// Result is the outcome of a single HTTP attempt.
type Result struct {
	// Success is true for a 2xx response.
	Success bool `json:"success"`

	// StatusCode is the HTTP status, 0 when no response was received.
	StatusCode int `json:"status_code,omitempty"`

	// ResponseBody is the response body, capped by the sender.
	ResponseBody string `json:"response_body,omitempty"`

	// Error describes a transport failure or a permanent problem.
	Error string `json:"error,omitempty"`

	// Permanent marks failures that retrying cannot fix.
	Permanent bool `json:"permanent,omitempty"`

	// LatencyMs is the wall time of the attempt.
	LatencyMs int `json:"latency_ms"`
}

// Apply records res on l and moves it to its next state:
//
//   - 2xx: delivered
//   - failure with attempts left: retrying, Attempt+1, NextRetryAt = now + b.Delay(Attempt)
//   - failure on the last attempt, or a permanent failure: failed
//
// A terminal log is left untouched and ErrTerminal is returned.
func Apply(l *Log, res Result, now time.Time, b Backoff) error {
	if l.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, l.ID, l.Status)
	}
	now = now.UTC().Truncate(time.Millisecond)

	l.LastStatusCode = res.StatusCode
	l.LastResponseBody = storable(res.ResponseBody, MaxStoredResponse)
	l.LastError = storable(res.Error, MaxStoredResponse)
	l.LastLatencyMs = res.LatencyMs
	l.UpdatedAt = now

	switch {
	case res.Success:
		l.Status = StatusDelivered
		l.DeliveredAt = &now
		l.NextRetryAt = nil
	case !res.Permanent && l.Attempt < l.MaxAttempts:
		next := now.Add(b.Delay(l.Attempt))
		l.Status = StatusRetrying
		l.Attempt++
		l.NextRetryAt = &next
	default:
		l.Status = StatusFailed
		l.NextRetryAt = nil
	}
	return nil
}

// Fail ends the series without another attempt.
func Fail(l *Log, reason string, now time.Time) error {
	if l.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, l.ID, l.Status)
	}
	l.Status = StatusFailed
	l.LastError = storable(reason, MaxStoredResponse)
	l.NextRetryAt = nil
	l.UpdatedAt = now.UTC().Truncate(time.Millisecond)
	return nil
}

// Claim moves a retrying log back to pending ahead of re-enqueueing it.
func Claim(l *Log, now time.Time) error {
	if l.Status != StatusRetrying {
		return fmt.Errorf("delivery: claim %s: status is %s", l.ID, l.Status)
	}
	l.Status = StatusPending
	l.NextRetryAt = nil
	l.UpdatedAt = now.UTC().Truncate(time.Millisecond)
	return nil
}

// Rearm restamps a pending log whose job has gone missing, ahead of
// enqueueing it again. The attempt is unchanged.
func Rearm(l *Log, now time.Time) error {
	if l.Status != StatusPending {
		return fmt.Errorf("delivery: rearm %s: status is %s", l.ID, l.Status)
	}
	l.UpdatedAt = now.UTC().Truncate(time.Millisecond)
	return nil
}

// Defer parks a pending log as retrying at now+delay without consuming an
// attempt. Used when its job could not be enqueued.
func Defer(l *Log, now time.Time, delay time.Duration) error {
	if l.Status != StatusPending {
		return fmt.Errorf("delivery: defer %s: status is %s", l.ID, l.Status)
	}
	now = now.UTC().Truncate(time.Millisecond)
	at := now.Add(delay)
	l.Status = StatusRetrying
	l.NextRetryAt = &at
	l.UpdatedAt = now
	return nil
}
