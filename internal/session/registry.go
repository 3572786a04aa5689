package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/eventroll/rollcall/internal/member"
)

// DefaultTTL is how long an idle session lives.
const DefaultTTL = 12 * time.Hour

// Registry maps session tokens to users. Every successful Lookup extends
// the session by the registry TTL.
type Registry struct {
	sessions *cache.Cache
	ttl      time.Duration
}

// NewRegistry creates a registry whose sessions expire after ttl idle.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		sessions: cache.New(ttl, 2*ttl),
		ttl:      ttl,
	}
}

// Create stores user under a new random token.
func (r *Registry) Create(user member.User) string {
	token := uuid.NewString()
	r.sessions.Set(token, user, r.ttl)
	return token
}

// Lookup returns the user for token.
func (r *Registry) Lookup(token string) (member.User, bool) {
	v, ok := r.sessions.Get(token)
	if !ok {
		return member.User{}, false
	}
	user := v.(member.User)
	r.sessions.Set(token, user, r.ttl)
	return user, true
}

// Logout destroys the session. It reports whether the token was live.
func (r *Registry) Logout(token string) bool {
	if _, ok := r.sessions.Get(token); !ok {
		return false
	}
	r.sessions.Delete(token)
	return true
}

// Len returns the number of unexpired sessions.
func (r *Registry) Len() int {
	return r.sessions.ItemCount()
}
