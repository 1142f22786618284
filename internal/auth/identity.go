package auth

import (
	"context"
	"sort"
)

// Identity is the authenticated caller of a request. It is built by the
// middleware and passed down explicitly through the request context.
type Identity struct {
	UserID  int64
	Name    string
	Email   string
	Role    string
	Version int64
	access  map[string]struct{}
}

func NewIdentity(userID int64, name, email, role string, version int64, items []string) *Identity {
	access := make(map[string]struct{}, len(items))
	for _, id := range items {
		access[id] = struct{}{}
	}
	return &Identity{UserID: userID, Name: name, Email: email, Role: role, Version: version, access: access}
}

// Owns reports whether itemID is in the identity's access set.
func (i *Identity) Owns(itemID string) bool {
	_, ok := i.access[itemID]
	return ok
}

// Items returns the access set, sorted.
func (i *Identity) Items() []string {
	out := make([]string, 0, len(i.access))
	for id := range i.access {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity set by the middleware, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(ctxKey{}).(*Identity)
	return id
}
