package recorder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorKind classifies a storage failure.
type ErrorKind string

const (
	ConnectionError     ErrorKind = "connection_error"
	ConstraintViolation ErrorKind = "constraint_violation"
	SerializationError  ErrorKind = "serialization_error"
)

// StorageError wraps every error returned by the gateway.
type StorageError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsKind reports whether err is a StorageError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Kind == kind
}

// classify maps a driver error to a StorageError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Kind: kindOf(err), Op: op, Err: err}
}

func kindOf(err error) ErrorKind {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "23"):
			return ConstraintViolation
		case pgErr.Code == "40001", strings.HasPrefix(pgErr.Code, "22"):
			return SerializationError
		default:
			return ConnectionError
		}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "constraint failed"):
		return ConstraintViolation
	case strings.Contains(msg, "datatype mismatch"):
		return SerializationError
	}
	return ConnectionError
}
