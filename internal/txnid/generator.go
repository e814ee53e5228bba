// Package txnid issues transaction identifiers of the form
// TXN-<unix millis>-<16 hex digits>.
//
// The millisecond prefix orders ids by creation time; the suffix carries 64
// bits read from the entropy source. When the caller supplies an idempotency
// key the id is reserved against it so that retries get the original id back.
package txnid

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ashendes/petadoption-payments/internal/idempotency"
	log "github.com/sirupsen/logrus"
)

const suffixBytes = 8

// Issued is the outcome of Issue
type Issued struct {
	ID string
	// Replay is true when the id belongs to an earlier request with the same
	// idempotency key; the caller must not settle again.
	Replay bool
}

// Generator creates transaction ids
type Generator struct {
	store idempotency.Store
	now   func() time.Time

	entropyMu sync.Mutex
	entropy   io.Reader
}

// Option customizes a Generator
type Option func(*Generator)

// WithEntropy replaces crypto/rand as the suffix source
func WithEntropy(r io.Reader) Option {
	return func(g *Generator) { g.entropy = r }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// NewGenerator creates a generator backed by store for idempotency keys
func NewGenerator(store idempotency.Store, opts ...Option) *Generator {
	g := &Generator{
		store:   store,
		now:     time.Now,
		entropy: rand.Reader,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// New returns a fresh id without consulting the idempotency store
func (g *Generator) New() (string, error) {
	var buf [suffixBytes]byte
	g.entropyMu.Lock()
	_, err := io.ReadFull(g.entropy, buf[:])
	g.entropyMu.Unlock()
	if err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	return fmt.Sprintf("TXN-%d-%s", g.now().UnixMilli(), strings.ToUpper(hex.EncodeToString(buf[:]))), nil
}

// Issue returns the id for a request carrying idempotencyKey. An empty key
// always yields a fresh id and never touches the store.
func (g *Generator) Issue(ctx context.Context, idempotencyKey string) (Issued, error) {
	if idempotencyKey == "" {
		id, err := g.New()
		if err != nil {
			return Issued{}, err
		}
		return Issued{ID: id}, nil
	}

	if id, found, err := g.store.Lookup(ctx, idempotencyKey); err != nil {
		return Issued{}, err
	} else if found {
		return Issued{ID: id, Replay: true}, nil
	}

	id, err := g.New()
	if err != nil {
		return Issued{}, err
	}
	reserved, err := g.store.Reserve(ctx, idempotencyKey, id)
	if err != nil {
		return Issued{}, err
	}
	if reserved {
		return Issued{ID: id}, nil
	}

	// Lost the race against a concurrent request with the same key.
	winner, found, err := g.store.Lookup(ctx, idempotencyKey)
	if err != nil {
		return Issued{}, err
	}
	if !found {
		return Issued{}, fmt.Errorf("idempotency key reserved but not readable")
	}
	log.WithFields(log.Fields{
		"transaction_id": winner,
		"discarded_id":   id,
	}).Debug("Idempotency key taken by a concurrent request")
	return Issued{ID: winner, Replay: true}, nil
}

// Release gives up the reservation of idempotencyKey for id. It is called
// when the transaction for id could not be recorded, so a retry with the same
// key starts over instead of waiting on a transaction that does not exist.
func (g *Generator) Release(ctx context.Context, idempotencyKey, id string) error {
	if idempotencyKey == "" {
		return nil
	}
	return g.store.Release(ctx, idempotencyKey, id)
}
