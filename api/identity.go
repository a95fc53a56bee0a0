package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Abhiram-108/minitrello/domain"
	"github.com/Abhiram-108/minitrello/gateway"
)

// Authenticator verifies a bearer credential.
type Authenticator interface {
	ClaimsFromAuthHeader(string) (Claims, error)
}

// UserStore looks up stored profiles. A missing user returns nil, nil.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*domain.Identity, error)
}

// IdentityResolver turns a credential into a display identity.
type IdentityResolver struct {
	auth    Authenticator
	users   UserStore
	logger  *log.Logger
	timeout time.Duration
}

func NewIdentityResolver(auth Authenticator, users UserStore, logger *log.Logger) *IdentityResolver {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &IdentityResolver{auth: auth, users: users, logger: logger, timeout: gateway.DefaultTimeout}
}

// WithTimeout bounds the profile lookup. A lookup that runs out of time
// falls back to the token claims.
func (r *IdentityResolver) WithTimeout(d time.Duration) *IdentityResolver {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Resolve verifies credential and returns the caller's identity. The stored
// profile wins over token claims; a profile lookup failure falls back to the
// claims so a store outage does not lock users out.
func (r *IdentityResolver) Resolve(ctx context.Context, credential string) (domain.Identity, error) {
	claims, err := r.auth.ClaimsFromAuthHeader(credential)
	if err != nil {
		return domain.Identity{}, domain.NotAuthenticated("%s", err.Error())
	}
	id := domain.Identity{ID: claims.Subject, Name: claims.Name, Avatar: claims.Picture}
	if r.users != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
		u, err := r.users.GetUser(lookupCtx, claims.Subject)
		cancel()
		switch {
		case err != nil:
			r.logger.WithError(err).WithField("user", claims.Subject).Warn("profile lookup failed")
		case u != nil:
			if u.Name != "" {
				id.Name = u.Name
			}
			if u.Avatar != "" {
				id.Avatar = u.Avatar
			}
		}
	}
	if id.Name == "" {
		id.Name = id.ID
	}
	return id, nil
}
