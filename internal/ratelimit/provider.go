package ratelimit

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/joestump/vetric/internal/identity"
)

// ThrottledProvider limits RequestPasswordReset per email address and passes
// every other call through.
type ThrottledProvider struct {
	identity.Provider
	limiter Limiter
}

func NewThrottledProvider(p identity.Provider, l Limiter) *ThrottledProvider {
	return &ThrottledProvider{Provider: p, limiter: l}
}

// RequestPasswordReset rejects with auth/too-many-requests once the address
// is over its limit. If the limiter itself fails the request goes through.
func (p *ThrottledProvider) RequestPasswordReset(ctx context.Context, email string) error {
	key := strings.ToLower(strings.TrimSpace(email))
	if key != "" {
		err := p.limiter.Allow(ctx, key)
		if errors.Is(err, ErrLimited) {
			return &identity.Error{
				Code:    identity.CodeTooManyRequests,
				Message: "Too many password reset requests. Please try again later.",
				Err:     err,
			}
		}
		if err != nil {
			log.Printf("ratelimit: %v", err)
		}
	}
	return p.Provider.RequestPasswordReset(ctx, email)
}

// Maintain runs the wrapped provider's upkeep and drops idle in-memory
// limiter state.
func (p *ThrottledProvider) Maintain(ctx context.Context) error {
	if m, ok := p.limiter.(*Memory); ok {
		m.Sweep(time.Hour)
	}
	if m, ok := p.Provider.(identity.Maintainer); ok {
		return m.Maintain(ctx)
	}
	return nil
}
