package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/lib/pq"
)

// WithTimeout bounds a single store call. A zero timeout leaves ctx untouched.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// IsUniqueViolation reports a Postgres unique_violation (23505).
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// IsUnavailable reports errors meaning the database could not be reached in
// time: deadlines, cancelled statements, broken connections and Postgres
// connection-class codes.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 08xxx connection exception, 57014 query_canceled (lib/pq cancels the
		// statement server side when ctx expires), 57P01..03 shutdown / cannot connect now
		code := string(pqErr.Code)
		return strings.HasPrefix(code, "08") || code == "57014" || strings.HasPrefix(code, "57P")
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
