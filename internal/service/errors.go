package service

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Error kinds surfaced to the client-facing layer. Services wrap them with
// context via fmt.Errorf("%w: ...").
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrForbidden       = errors.New("forbidden")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrConflict        = errors.New("conflict")
	ErrTimeout         = errors.New("timeout")
	ErrUnavailable     = errors.New("unavailable")
)

// Collaborator failures are reported with fixed text; the cause is logged, never returned.
var (
	errDeadlineExceeded   = fmt.Errorf("%w: operation exceeded its deadline", ErrTimeout)
	errBackendUnreachable = fmt.Errorf("%w: backing store unreachable", ErrUnavailable)
)

func invalidArgument(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		return fmt.Errorf("%w: %s", ErrInvalidArgument, validationErrors.Error())
	}
	return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
}

// deadlineError converts context expiry into ErrTimeout and leaves other errors untouched.
func deadlineError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errDeadlineExceeded
	}
	return err
}

// classifyStoreError maps expiry to ErrTimeout and lost connectivity to
// ErrUnavailable. It returns nil for failures that have no client-facing kind.
func classifyStoreError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if timeoutErr := deadlineError(ctx, err); errors.Is(timeoutErr, ErrTimeout) {
		return timeoutErr
	}
	if connectionLost(err) {
		return errBackendUnreachable
	}
	return nil
}

func connectionLost(err error) bool {
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, gorm.ErrInvalidDB),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET):
		return true
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
