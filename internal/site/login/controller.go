// Package login implements the admin sign-in flow: it owns the form submission
// state and forwards credentials to an external verification backend.
package login

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultDashboardPath = "/admin"

const tracerName = "finitefield.org/meshfield-site/internal/site/login"

// Authenticator verifies admin credentials. A false result means the credentials
// were rejected; an error means verification could not be completed.
type Authenticator interface {
	AdminLogin(ctx context.Context, email, password string) (bool, error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, email, password string) (bool, error)

// AdminLogin calls f.
func (f AuthenticatorFunc) AdminLogin(ctx context.Context, email, password string) (bool, error) {
	return f(ctx, email, password)
}

// Navigator receives route change requests from the controller.
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc adapts a function to the Navigator interface.
type NavigatorFunc func(path string)

// Navigate calls f.
func (f NavigatorFunc) Navigate(path string) { f(path) }

// Options tune a Controller.
type Options struct {
	// DashboardPath is the navigation target after a successful sign-in.
	DashboardPath string
	// Timeout bounds each collaborator call. Zero disables the bound.
	Timeout time.Duration
	Logger  *zap.Logger
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Controller owns the submission state of one login form.
type Controller struct {
	auth          Authenticator
	dashboardPath string
	timeout       time.Duration
	logger        *zap.Logger
	tracer        trace.Tracer

	mu    sync.Mutex
	phase Phase
	err   string
}

// NewController constructs an idle Controller.
func NewController(auth Authenticator, opts Options) *Controller {
	if auth == nil {
		panic("login: authenticator is required")
	}
	dashboard := strings.TrimSpace(opts.DashboardPath)
	if dashboard == "" {
		dashboard = defaultDashboardPath
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Controller{
		auth:          auth,
		dashboardPath: dashboard,
		timeout:       opts.Timeout,
		logger:        logger,
		tracer:        tp.Tracer(tracerName),
	}
}

// State returns a copy of the current form state.
func (c *Controller) State() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{Phase: c.phase, Error: c.err}
}

// Submit verifies creds with the authenticator and settles the form state.
// On success nav receives exactly one Navigate call with the dashboard path.
// Rejections and collaborator failures both end in PhaseError with
// MessageInvalidCredentials; only the latter is logged.
func (c *Controller) Submit(ctx context.Context, creds Credentials, nav Navigator) (Snapshot, error) {
	email := strings.TrimSpace(creds.Email)
	password := creds.Password

	if err := c.begin(email, password); err != nil {
		return c.State(), err
	}
	inFlight.Inc()
	defer func() {
		c.mu.Lock()
		if c.phase == PhaseSubmitting {
			c.phase = PhaseError
			c.err = MessageInvalidCredentials
		}
		c.mu.Unlock()
		inFlight.Dec()
	}()

	ctx, span := c.tracer.Start(ctx, "login.submit")
	defer span.End()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	ok, err := c.auth.AdminLogin(ctx, email, password)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "credential backend failure")
		attemptsTotal.WithLabelValues(outcomeError).Inc()
		c.logger.Warn("admin login backend failure", zap.Error(err))
		return c.settle(PhaseError, MessageInvalidCredentials), nil
	case !ok:
		span.SetAttributes(attribute.String("login.outcome", outcomeRejected))
		attemptsTotal.WithLabelValues(outcomeRejected).Inc()
		c.logger.Info("admin login rejected")
		return c.settle(PhaseError, MessageInvalidCredentials), nil
	}

	span.SetAttributes(attribute.String("login.outcome", outcomeSuccess))
	attemptsTotal.WithLabelValues(outcomeSuccess).Inc()
	snap := c.settle(PhaseSuccess, "")
	if nav != nil {
		nav.Navigate(c.dashboardPath)
	}
	return snap, nil
}

func (c *Controller) begin(email, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == PhaseSubmitting {
		attemptsTotal.WithLabelValues(outcomeInFlight).Inc()
		return ErrSubmissionInFlight
	}
	if email == "" || password == "" {
		attemptsTotal.WithLabelValues(outcomeInvalid).Inc()
		c.phase = PhaseError
		c.err = MessageRequired
		return ErrMissingCredentials
	}
	c.err = ""
	c.phase = PhaseSubmitting
	return nil
}

func (c *Controller) settle(phase Phase, message string) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = phase
	c.err = message
	return Snapshot{Phase: phase, Error: message}
}
