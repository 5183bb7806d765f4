package authflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joestump/vetric/internal/identity"
	"github.com/joestump/vetric/internal/metrics"
)

const minPasswordLength = 6

// Credentials are the form values of one submission. They are never stored.
type Credentials struct {
	Email           string
	Password        string
	ConfirmPassword string
}

// Config holds the post-success navigation target and delays.
type Config struct {
	RedirectTo  string
	SignupDelay time.Duration
	LoginDelay  time.Duration
	// ResetDelay of zero leaves the user on the reset form.
	ResetDelay time.Duration
}

// DefaultConfig navigates to / after 2s for signup and 1.5s otherwise.
func DefaultConfig() Config {
	return Config{
		RedirectTo:  "/",
		SignupDelay: 2 * time.Second,
		LoginDelay:  1500 * time.Millisecond,
		ResetDelay:  1500 * time.Millisecond,
	}
}

// Controller runs auth submissions against a provider. It holds no
// per-surface state and is shared by every surface.
type Controller struct {
	provider identity.Provider
	cfg      Config
	tracer   trace.Tracer
}

func NewController(p identity.Provider, cfg Config) *Controller {
	if cfg.RedirectTo == "" {
		cfg.RedirectTo = "/"
	}
	return &Controller{
		provider: p,
		cfg:      cfg,
		tracer:   otel.Tracer("github.com/joestump/vetric/internal/authflow"),
	}
}

// Register validates creds and creates an account. On success the flow is
// in success and nav has been asked to go to the redirect target.
//
// If the flow is released while the provider call runs, the established
// session is returned together with ErrReleased and nav is not called.
func (c *Controller) Register(ctx context.Context, f *Flow, nav Navigator, creds Credentials) (*identity.Session, error) {
	validate := func() error {
		if len(creds.Password) < minPasswordLength {
			return &ValidationError{Message: MsgPasswordTooShort}
		}
		if creds.Password != creds.ConfirmPassword {
			return &ValidationError{Message: MsgPasswordMismatch}
		}
		return nil
	}
	var sess *identity.Session
	err := c.submit(ctx, "register", f, nav, validate, func(ctx context.Context) error {
		var err error
		sess, err = c.provider.Register(ctx, creds.Email, creds.Password)
		return err
	}, MsgRegistered, c.cfg.SignupDelay, true)
	return sess, err
}

// Authenticate signs in with existing credentials. There is no local
// validation; the provider judges the input.
func (c *Controller) Authenticate(ctx context.Context, f *Flow, nav Navigator, creds Credentials) (*identity.Session, error) {
	var sess *identity.Session
	err := c.submit(ctx, "authenticate", f, nav, nil, func(ctx context.Context) error {
		var err error
		sess, err = c.provider.Authenticate(ctx, creds.Email, creds.Password)
		return err
	}, MsgLoggedIn, c.cfg.LoginDelay, true)
	return sess, err
}

// RequestPasswordReset asks the provider to email a reset link. With a zero
// ResetDelay the flow ends idle rather than succeeded, so the same surface
// can sign in afterwards.
func (c *Controller) RequestPasswordReset(ctx context.Context, f *Flow, nav Navigator, email string) error {
	validate := func() error {
		if strings.TrimSpace(email) == "" {
			return &ValidationError{Message: MsgEmailRequired}
		}
		return nil
	}
	return c.submit(ctx, "password_reset", f, nav, validate, func(ctx context.Context) error {
		return c.provider.RequestPasswordReset(ctx, email)
	}, MsgResetSent, c.cfg.ResetDelay, c.cfg.ResetDelay > 0)
}

func (c *Controller) submit(
	ctx context.Context,
	op string,
	f *Flow,
	nav Navigator,
	validate func() error,
	call func(context.Context) error,
	successMsg string,
	delay time.Duration,
	navigate bool,
) error {
	ctx, span := c.tracer.Start(ctx, "authflow."+op, trace.WithAttributes(
		attribute.String("auth.surface", f.Surface()),
	))
	defer span.End()

	if err := f.begin(validate); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			c.outcome(op, f, metrics.OutcomeValidation)
			span.SetAttributes(attribute.String("auth.outcome", metrics.OutcomeValidation))
		} else {
			c.outcome(op, f, metrics.OutcomeRejected)
			span.SetAttributes(attribute.String("auth.outcome", metrics.OutcomeRejected))
		}
		return err
	}

	// Once issued the provider call runs to completion, whatever happens to
	// the request that started it.
	start := time.Now()
	callErr := call(context.WithoutCancel(ctx))
	metrics.ProviderDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if callErr != nil {
		pe := newProviderError(callErr)
		metrics.ProviderErrorsTotal.WithLabelValues(op, codeLabel(pe.Code)).Inc()
		span.RecordError(callErr)
		span.SetStatus(codes.Error, pe.Code)
		if !f.complete(StatusError, pe.Message) {
			c.outcome(op, f, metrics.OutcomeDiscarded)
			span.SetAttributes(attribute.String("auth.outcome", metrics.OutcomeDiscarded))
			return ErrReleased
		}
		c.outcome(op, f, metrics.OutcomeProvider)
		return pe
	}

	// Without a navigation to take the user away the surface stays usable:
	// the flow goes back to idle and keeps the message.
	status := StatusSuccess
	if !navigate {
		status = StatusIdle
	}
	if !f.complete(status, successMsg) {
		c.outcome(op, f, metrics.OutcomeDiscarded)
		span.SetAttributes(attribute.String("auth.outcome", metrics.OutcomeDiscarded))
		return ErrReleased
	}
	c.outcome(op, f, metrics.OutcomeSuccess)
	span.SetAttributes(attribute.String("auth.outcome", metrics.OutcomeSuccess))
	if navigate && nav != nil {
		nav.Navigate(c.cfg.RedirectTo, delay)
	}
	return nil
}

func (c *Controller) outcome(op string, f *Flow, outcome string) {
	metrics.FlowOutcomesTotal.WithLabelValues(op, f.Surface(), outcome).Inc()
}

func codeLabel(code string) string {
	if code == "" {
		return "unknown"
	}
	return code
}
