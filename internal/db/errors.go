package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"

	"github.com/yashugupta786/sp/internal/store"
)

// ErrTransactionConflict indicates a SurrealDB transaction conflict.
// This occurs when concurrent statements touch the same records; the statement
// was rolled back and may be retried.
var ErrTransactionConflict = errors.New("transaction conflict")

// wrapQueryError inspects a SurrealDB error and wraps it with the matching
// sentinel. Returns the original error if it doesn't match known patterns.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	// Extract QueryError if present - this is a database-level error
	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		msg := queryErr.Message
		switch {
		case strings.Contains(msg, "already exists"), strings.Contains(msg, "already contains"):
			return fmt.Errorf("%w: %s", store.ErrAlreadyExists, msg)
		case strings.Contains(msg, "Transaction conflict"), strings.Contains(msg, "can be retried"):
			return fmt.Errorf("%w: %s", ErrTransactionConflict, msg)
		}
	}

	return err
}
