package database

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"realtimechat/errs"
)

// classify maps driver errors onto the error taxonomy. Anything the driver
// reports besides a missing row is treated as a transient outage.
func classify(err error, kind, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errs.NotFound(kind, id)
	case errs.Classified(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return errs.Unavailable(err)
	}
}
