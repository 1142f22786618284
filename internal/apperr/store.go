package apperr

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/ovaphlow/pitchfork/service-bookstore/pkg/database"
)

// FromStore annotates a repository error. Unreachable or timed-out stores
// become Unavailable; sql.ErrNoRows passes through untouched so services can
// keep matching it.
func FromStore(op string, err error) error {
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if database.IsUnavailable(err) {
		return Wrap(Unavailable, "Database unavailable. Please try again later.", fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}
