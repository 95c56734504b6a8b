package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"dworekgo/core"
	"dworekgo/database"
	"dworekgo/mutexloader"

	"github.com/apex/log"
)

// IsAllowedSessionToken reports whether token is hexadecimal (either case) and
// its length lies within [min, max]. Tokens failing this are never looked up.
func IsAllowedSessionToken(token string, min int, max int) bool {
	if len(token) < min || len(token) > max {
		return false
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// Validator maps session tokens to users through a read-through cache.
type Validator struct {
	store  database.Store
	cache  Cache
	loader *mutexloader.Loader[*database.User]
	log    *log.Entry

	minLength int
	maxLength int
	ttl       time.Duration
	timeout   time.Duration
}

func NewValidator(store database.Store, cache Cache, config *core.ServerConfig) *Validator {
	return &Validator{
		store:     store,
		cache:     cache,
		loader:    mutexloader.New[*database.User]("sessions"),
		minLength: config.Session.Token_Min_Length,
		maxLength: config.Session.Token_Max_Length,
		ttl:       config.SessionCacheTTL(),
		timeout:   config.HandlerTimeout(),
		log: log.WithFields(log.Fields{
			"name":    "SessionValidator",
			"modName": "SessionValidator",
		}),
	}
}

// UserByToken returns the user owning a valid, unexpired session. A nil user
// with a nil error means the token is not valid; errors are infrastructure
// failures only.
func (v *Validator) UserByToken(ctx context.Context, token string) (*database.User, error) {
	token = strings.ToLower(strings.TrimSpace(token))
	if !IsAllowedSessionToken(token, v.minLength, v.maxLength) {
		return nil, nil
	}

	if user, ok, err := v.cache.Get(ctx, token); err != nil {
		v.log.Warnf("Session cache lookup failed, falling back to store: %s", err)
	} else if ok {
		return user, nil
	}

	// Concurrent authentications with the same token share one store lookup.
	return v.loader.Wait(ctx, token, func() (*database.User, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.timeout)
		defer cancel()
		return v.lookup(loadCtx, token)
	})
}

func (v *Validator) lookup(ctx context.Context, token string) (*database.User, error) {
	session, err := v.store.SessionByToken(ctx, token)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	now := time.Now()
	if session.Expired(now) {
		return nil, nil
	}

	user, err := v.store.User(ctx, session.UserID)
	if errors.Is(err, database.ErrNotFound) {
		v.log.Warnf("Session %s references missing user %s", session.ID, session.UserID)
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	ttl := v.ttl
	if remaining := session.ExpireDate.Sub(now); remaining < ttl {
		ttl = remaining
	}
	if err := v.cache.Set(ctx, token, user, ttl); err != nil {
		v.log.Warnf("Unable to cache session for user %s: %s", user.ID, err)
	}

	return user, nil
}

// Invalidate drops a token from the cache, e.g. after logout.
func (v *Validator) Invalidate(ctx context.Context, token string) error {
	return v.cache.Delete(ctx, strings.ToLower(strings.TrimSpace(token)))
}
