package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists booking requests. Implementations must give
// AcquireNotificationLock read-then-write atomicity per request.
type Store interface {
	// Create writes the request and its outbox event together.
	Create(ctx context.Context, r Request) error
	Get(ctx context.Context, id uuid.UUID) (*Request, error)

	// AcquireNotificationLock sets notificationLockAt to now unless the sent
	// marker is set or another holder's lock is still live. A lock taken
	// before staleBefore on a pending request is reclaimed.
	AcquireNotificationLock(ctx context.Context, id uuid.UUID, now, staleBefore time.Time) (req *Request, acquired bool, err error)
	// ReleaseNotificationLock clears the lock of a pending request so the
	// next delivery can retry it.
	ReleaseNotificationLock(ctx context.Context, id uuid.UUID) error

	// Reject and Approve only move a pending request.
	Reject(ctx context.Context, id uuid.UUID, reason string, now time.Time) error
	Approve(ctx context.Context, id uuid.UUID, a Approval, now time.Time) error

	// MarkNotificationSent sets notificationSentAt once.
	MarkNotificationSent(ctx context.Context, id uuid.UUID, now time.Time) error
}

// Outbox hands resolution events to workers with at-least-once delivery.
type Outbox interface {
	// ClaimEvents hides up to limit due events until visibleUntil and bumps
	// their attempt count.
	ClaimEvents(ctx context.Context, limit int, now, visibleUntil time.Time) ([]Event, error)
	AckEvent(ctx context.Context, id uuid.UUID, now time.Time) error
	// FailEvent records the error and makes the event due at retryAt, or
	// parks it once attempts reach maxAttempts.
	FailEvent(ctx context.Context, id uuid.UUID, errMsg string, retryAt time.Time, maxAttempts int) error
}
