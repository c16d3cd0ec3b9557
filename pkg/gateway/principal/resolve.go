package principal

import (
	"net/http"
	"strings"

	"github.com/aurora-labs/voxgate/pkg/gateway/auth"
	"github.com/aurora-labs/voxgate/pkg/gateway/ratelimit"
)

type Kind string

const (
	KindUser Kind = "user"
	KindAnon Kind = "anonymous"
)

type Resolved struct {
	Kind Kind
	// Raw is the raw resolved identifier (user ID). It must not be logged.
	Raw string
	// Key is a hashed/bucketed identifier suitable for in-memory maps.
	Key string
}

// Resolve identifies the caller for rate-limiting purposes: the
// authenticated user ID when present, otherwise an anonymous bucket.
func Resolve(r *http.Request) Resolved {
	if r == nil {
		return Resolved{Kind: KindAnon, Key: "anonymous"}
	}

	if p, ok := auth.PrincipalFrom(r.Context()); ok && p != nil && strings.TrimSpace(p.Identity.UserID) != "" {
		return Resolved{
			Kind: KindUser,
			Raw:  p.Identity.UserID,
			Key:  ratelimit.PrincipalKeyFromUserID(p.Identity.UserID),
		}
	}

	return Resolved{Kind: KindAnon, Key: "anonymous"}
}
