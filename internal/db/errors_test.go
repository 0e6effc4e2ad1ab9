package db

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/surrealdb/surrealdb.go"

	"github.com/yashugupta786/sp/internal/store"
)

func TestWrapQueryError(t *testing.T) {
	assert.NoError(t, wrapQueryError(nil))

	plain := errors.New("network down")
	assert.Equal(t, plain, wrapQueryError(plain))

	dup := wrapQueryError(&surrealdb.QueryError{Message: "Database index `document_fingerprint` already contains ['a', 'b']"})
	assert.ErrorIs(t, dup, store.ErrAlreadyExists)

	exists := wrapQueryError(&surrealdb.QueryError{Message: "Database record `run:RUN-000001` already exists"})
	assert.ErrorIs(t, exists, store.ErrAlreadyExists)

	conflict := wrapQueryError(&surrealdb.QueryError{Message: "Transaction conflict: Resource busy"})
	assert.ErrorIs(t, conflict, ErrTransactionConflict)
}
