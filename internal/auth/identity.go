package auth

import "context"

type identityKind int

const (
	kindAnonymous identityKind = iota
	kindRegistered
)

// Identity is who a request acts as: a registered user, or an anonymous
// caller known only by client IP.
type Identity struct {
	kind identityKind
	key  string
}

// Anonymous identifies an unauthenticated caller by IP address.
func Anonymous(ip string) Identity {
	if ip == "" {
		ip = "unknown"
	}
	return Identity{kind: kindAnonymous, key: ip}
}

// Registered identifies an authenticated user.
func Registered(userID string) Identity {
	return Identity{kind: kindRegistered, key: userID}
}

func (i Identity) IsRegistered() bool { return i.kind == kindRegistered }

// UserID is empty for anonymous identities.
func (i Identity) UserID() string {
	if i.kind != kindRegistered {
		return ""
	}
	return i.key
}

// Key is the user ID or the IP address.
func (i Identity) Key() string { return i.key }

// String is a namespaced form usable as a shared limiter key.
func (i Identity) String() string {
	if i.kind == kindRegistered {
		return "user:" + i.key
	}
	return "ip:" + i.key
}

type identityKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity set by the middleware. A request that
// never passed through it reads as anonymous "unknown".
func FromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(identityKey{}).(Identity); ok {
		return id
	}
	return Anonymous("")
}
