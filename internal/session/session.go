// Package session binds a dApp origin on a network to a signer address.
//
// At most one Session exists per (origin, genesis id). Stores implement
// last-write-wins upserts; callers never hold a session across requests.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/R3E-Network/dapp_gateway/internal/dapp"
)

// ErrNotFound is returned by Get when no session is bound.
var ErrNotFound = errors.New("session not found")

// Kind is the trust level of a session.
type Kind int32

const (
	// KindUnknown is the zero value and never stored.
	KindUnknown Kind = iota

	// KindTemporary is created implicitly by the first signer-bound request.
	KindTemporary

	// KindPermanent is created by an approved login.
	KindPermanent

	// KindExternal is created by the external-app handshake.
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindTemporary:
		return "temporary"
	case KindPermanent:
		return "permanent"
	case KindExternal:
		return "external"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// ParseKind converts a stored label back to a Kind.
func ParseKind(s string) Kind {
	switch strings.ToLower(s) {
	case "temporary":
		return KindTemporary
	case "permanent":
		return KindPermanent
	case "external":
		return KindExternal
	default:
		return KindUnknown
	}
}

// MarshalJSON implements json.Marshaler.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*k = ParseKind(str)
	return nil
}

// Session is one origin/network binding.
type Session struct {
	Origin    string    `json:"origin"`
	GenesisID string    `json:"genesisId"`
	Kind      Kind      `json:"kind"`
	Address   string    `json:"address"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Key returns the normalised (origin, genesis id) pair s is stored under.
func (s Session) Key() (string, string) {
	return Key(s.Origin, s.GenesisID)
}

// Key normalises a lookup pair: the origin is reduced to scheme://host[:port]
// and the genesis id lower-cased.
func Key(origin, genesisID string) (string, string) {
	return dapp.OriginOf(origin), strings.ToLower(strings.TrimSpace(genesisID))
}

// Store persists sessions.
type Store interface {
	Get(ctx context.Context, origin, genesisID string) (Session, error)
	Put(ctx context.Context, s Session) error
	// Delete reports whether a session was removed.
	Delete(ctx context.Context, origin, genesisID string) (bool, error)
	// DeleteByAddress removes every session bound to address and returns how many.
	DeleteByAddress(ctx context.Context, address string) (int, error)
	List(ctx context.Context) ([]Session, error)
}

// Lookup is Get that maps ErrNotFound to ok=false.
func Lookup(ctx context.Context, store Store, origin, genesisID string) (Session, bool, error) {
	s, err := store.Get(ctx, origin, genesisID)
	if errors.Is(err, ErrNotFound) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	return s, true, nil
}

func stamp(s Session, now time.Time) Session {
	s.Origin, s.GenesisID = s.Key()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	return s
}
