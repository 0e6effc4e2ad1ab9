package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/yashugupta786/sp/internal/store"
)

// Fingerprint returns the hex SHA-256 of content. Equal fingerprints are
// treated as equal content.
func Fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// DedupIndex admits each content fingerprint at most once per doc-run id,
// counting both previously stored documents and those admitted during the
// current job. One index serves one job.
type DedupIndex struct {
	store store.Store

	mu     sync.Mutex
	scopes map[string]*dedupScope
}

type dedupScope struct {
	once sync.Once
	err  error

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDedupIndex creates an empty index backed by s.
func NewDedupIndex(s store.Store) *DedupIndex {
	return &DedupIndex{store: s, scopes: make(map[string]*dedupScope)}
}

// Admit reports whether fingerprint is new content for docRunID. An admitted
// fingerprint is remembered, so a second Admit with the same value returns false.
func (d *DedupIndex) Admit(ctx context.Context, docRunID, fingerprint string) (bool, error) {
	scope, err := d.scope(ctx, docRunID)
	if err != nil {
		return false, err
	}

	scope.mu.Lock()
	defer scope.mu.Unlock()
	if _, dup := scope.seen[fingerprint]; dup {
		return false, nil
	}
	scope.seen[fingerprint] = struct{}{}
	return true, nil
}

// Forget withdraws an admitted fingerprint, used when the document could not be stored.
func (d *DedupIndex) Forget(docRunID, fingerprint string) {
	d.mu.Lock()
	scope := d.scopes[docRunID]
	d.mu.Unlock()
	if scope == nil {
		return
	}
	scope.mu.Lock()
	delete(scope.seen, fingerprint)
	scope.mu.Unlock()
}

// scope loads the stored fingerprints for docRunID on first use.
func (d *DedupIndex) scope(ctx context.Context, docRunID string) (*dedupScope, error) {
	d.mu.Lock()
	scope, ok := d.scopes[docRunID]
	if !ok {
		scope = &dedupScope{seen: make(map[string]struct{})}
		d.scopes[docRunID] = scope
	}
	d.mu.Unlock()

	scope.once.Do(func() {
		stored, err := d.store.ListFingerprints(ctx, docRunID)
		if err != nil {
			scope.err = fmt.Errorf("load fingerprints for %s: %w", docRunID, err)
			return
		}
		scope.mu.Lock()
		for _, fp := range stored {
			scope.seen[fp] = struct{}{}
		}
		scope.mu.Unlock()
	})
	if scope.err != nil {
		return nil, scope.err
	}
	return scope, nil
}
