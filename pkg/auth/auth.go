// Package auth implements the engine's Authorizer contract. The Registry
// authorizes principals who have proven key ownership through a signed,
// nonce-protected grant; AllowAll is for tests and single-operator
// deployments.
package auth

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/nacl/sign"
)

var (
	ErrUnknownPrincipal = fmt.Errorf("unknown principal")
	ErrNotAuthorized    = fmt.Errorf("principal not authorized")
	ErrBadSignature     = fmt.Errorf("bad grant signature")
	ErrStaleNonce       = fmt.Errorf("stale grant nonce")
)

// AllowAll authorizes every principal.
type AllowAll struct{}

func (AllowAll) Require(string) error { return nil }

type grant struct {
	expires time.Time
}

// Registry holds registered public keys and currently valid grants. A
// principal becomes authorized by submitting a grant signed with its
// registered key; the grant expires after the configured TTL.
type Registry struct {
	ttl       time.Duration
	keys      map[string]*[32]byte
	lastNonce map[string]uint64
	grants    map[string]grant

	now func() time.Time
	mu  sync.Mutex
}

// NewRegistry creates a registry whose grants stay valid for ttl.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		ttl:       ttl,
		keys:      make(map[string]*[32]byte),
		lastNonce: make(map[string]uint64),
		grants:    make(map[string]grant),
		now:       time.Now,
	}
}

// RegisterKey binds a principal to its signing public key.
func (r *Registry) RegisterKey(principal string, pub *[32]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := *pub
	r.keys[principal] = &key
}

// GrantMessage is the exact byte string a principal signs to obtain a
// grant: the principal name followed by the big-endian nonce.
func GrantMessage(principal string, nonce uint64) []byte {
	msg := make([]byte, len(principal)+8)
	copy(msg, principal)
	binary.BigEndian.PutUint64(msg[len(principal):], nonce)
	return msg
}

// Grant authorizes a principal for the TTL. signed must be the nacl signed
// form of GrantMessage(principal, nonce) under the registered key, and the
// nonce must be strictly greater than any previously accepted one, so a
// captured grant cannot be replayed.
func (r *Registry) Grant(principal string, nonce uint64, signed []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pub, ok := r.keys[principal]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPrincipal, principal)
	}
	if nonce <= r.lastNonce[principal] {
		return ErrStaleNonce
	}

	msg, ok := sign.Open(nil, signed, pub)
	if !ok || !bytes.Equal(msg, GrantMessage(principal, nonce)) {
		return ErrBadSignature
	}

	r.lastNonce[principal] = nonce
	r.grants[principal] = grant{expires: r.now().Add(r.ttl)}
	return nil
}

// Require implements perp.Authorizer.
func (r *Registry) Require(principal string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.grants[principal]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAuthorized, principal)
	}
	if r.now().After(g.expires) {
		delete(r.grants, principal)
		return fmt.Errorf("%w: grant expired for %s", ErrNotAuthorized, principal)
	}
	return nil
}
