package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// userIDKey is the gin context key under which the middleware stores the
// authenticated user id.
const userIDKey = "user_id"

// Verifier validates bearer tokens issued by the external auth service
// against its JWKS. Keys are cached and refreshed in the background so token
// verification never blocks on a network fetch.
type Verifier struct {
	jwksURL    string
	cache      *jwk.Cache
	refreshTTL time.Duration

	mu     sync.RWMutex
	keySet jwk.Set
}

// NewVerifier creates a verifier and warms the key cache.
func NewVerifier(jwksURL string) (*Verifier, error) {
	v := &Verifier{
		jwksURL:    jwksURL,
		refreshTTL: 5 * time.Minute,
	}

	cache := jwk.NewCache(context.Background())
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(v.refreshTTL)); err != nil {
		return nil, fmt.Errorf("register JWKS URL: %w", err)
	}
	v.cache = cache

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	keySet, err := v.fetchKeySet(ctx)
	if err != nil {
		return nil, fmt.Errorf("initial JWKS fetch: %w", err)
	}
	v.keySet = keySet

	go v.backgroundRefresh()

	return v, nil
}

func (v *Verifier) fetchKeySet(ctx context.Context) (jwk.Set, error) {
	keySet, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return jwk.Fetch(ctx, v.jwksURL)
	}
	return keySet, nil
}

func (v *Verifier) backgroundRefresh() {
	ticker := time.NewTicker(v.refreshTTL)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		keySet, err := v.fetchKeySet(ctx)
		cancel()

		if err == nil {
			v.mu.Lock()
			v.keySet = keySet
			v.mu.Unlock()
		}
		// Retried on the next tick.
	}
}

func (v *Verifier) getKeySet() jwk.Set {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.keySet
}

// UserFromRequest extracts and validates the bearer token, returning the
// authenticated user id (the token subject).
func (v *Verifier) UserFromRequest(r *http.Request) (string, error) {
	token, err := jwt.ParseRequest(
		r,
		jwt.WithKeySet(v.getKeySet()),
		jwt.WithValidate(true),
	)
	if err != nil {
		return "", fmt.Errorf("parse JWT: %w", err)
	}

	userID := token.Subject()
	if userID == "" {
		return "", fmt.Errorf("token missing subject")
	}
	return userID, nil
}

// Middleware rejects unauthenticated requests and stores the user id for
// handlers to read with UserID.
func (v *Verifier) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := v.UserFromRequest(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserID returns the authenticated user id set by Middleware.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
