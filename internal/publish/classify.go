package publish

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	tele "gopkg.in/telebot.v4"
)

// Class buckets a send failure by how it should be handled.
type Class int

const (
	// ClassTransient failures (timeouts, connection resets, 5xx) are worth
	// an immediate retry.
	ClassTransient Class = iota
	// ClassFlood means the platform told us to back off for a fixed period.
	ClassFlood
	// ClassPermission means the bot cannot post to the target at all.
	ClassPermission
	// ClassBadRequest means the payload itself was rejected; retrying the
	// same payload cannot succeed.
	ClassBadRequest
	// ClassUnknown is everything else. Treated as non-retryable.
	ClassUnknown
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassFlood:
		return "flood"
	case ClassPermission:
		return "permission"
	case ClassBadRequest:
		return "bad_request"
	}
	return "unknown"
}

// Retryable reports whether an immediate retry of the same payload makes sense.
func (c Class) Retryable() bool { return c == ClassTransient }

// Error is a send failure carrying its classification, so callers can shape
// the user-facing message (flood control must surface the mandated wait).
// Unwrap keeps the transport error visible to errors.Is/As.
type Error struct {
	Class Class
	Wait  time.Duration
	Err   error
}

func (e *Error) Error() string {
	if e.Wait > 0 {
		return fmt.Sprintf("send failed (%s, wait %s): %v", e.Class, e.Wait, e.Err)
	}
	return fmt.Sprintf("send failed (%s): %v", e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify maps a send error onto a Class and, for flood control, the
// platform-mandated wait.
func Classify(err error) (Class, time.Duration) {
	if err == nil {
		return ClassUnknown, 0
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return ClassFlood, time.Duration(flood.RetryAfter) * time.Second
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 401 || apiErr.Code == 403:
			return ClassPermission, 0
		case apiErr.Code == 400:
			return ClassBadRequest, 0
		case apiErr.Code >= 500:
			return ClassTransient, 0
		}
		return ClassUnknown, 0
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient, 0
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient, 0
	}

	return ClassUnknown, 0
}
