package store

import (
	"context"
	"errors"
	"net"

	"github.com/gocql/gocql"
)

var (
	// ErrNotFound means the requested user, tweet or follow edge does not exist.
	ErrNotFound = errors.New("not found")
	// ErrIntegrity means two denormalized views disagree, usually after a partial write.
	ErrIntegrity = errors.New("integrity violation")
	// ErrTransient is an infrastructural failure that may succeed on retry.
	ErrTransient = errors.New("transient storage error")
	// ErrFatal is a storage failure that outlived its retries.
	ErrFatal = errors.New("fatal storage error")
	// ErrReservedOwner is returned when a username collides with the public feed key.
	ErrReservedOwner = errors.New("reserved feed owner")
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrIntegrity) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, gocql.ErrTimeoutNoResponse) ||
		errors.Is(err, gocql.ErrNoConnections) ||
		errors.Is(err, gocql.ErrConnectionClosed) {
		return true
	}

	var (
		unavailable  *gocql.RequestErrUnavailable
		writeTimeout *gocql.RequestErrWriteTimeout
		readTimeout  *gocql.RequestErrReadTimeout
		netErr       net.Error
	)
	switch {
	case errors.As(err, &unavailable), errors.As(err, &writeTimeout), errors.As(err, &readTimeout):
		return true
	case errors.As(err, &netErr):
		return netErr.Timeout()
	}
	return false
}

// classify maps driver errors onto the package taxonomy.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gocql.ErrNotFound):
		return ErrNotFound
	case IsTransient(err) && !errors.Is(err, ErrTransient):
		return errors.Join(ErrTransient, err)
	}
	return err
}
