package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/irfndi/celebrum-trends/internal/config"
)

// InitSentry configures the Sentry SDK. It is a no-op when Sentry is
// disabled or has no DSN.
func InitSentry(cfg config.SentryConfig, fallbackRelease string, fallbackEnv string) error {
	if !cfg.Enabled || cfg.DSN == "" {
		return nil
	}

	release := cfg.Release
	if release == "" {
		release = fallbackRelease
	}

	environment := cfg.Environment
	if environment == "" {
		environment = fallbackEnv
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      environment,
		Release:          release,
		EnableTracing:    cfg.TracesSampleRate > 0,
		TracesSampleRate: cfg.TracesSampleRate,
		AttachStacktrace: true,
	})
}

// Flush drains buffered Sentry events within the provided context deadline.
func Flush(ctx context.Context) {
	timeout := 2 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = max(time.Until(deadline), 0)
	}
	sentry.Flush(timeout)
}

// CaptureAnalysisFailure reports a failed analysis run, tagged with the seed
// and the stage that failed. Events are dropped when Sentry is not initialized.
func CaptureAnalysisFailure(ctx context.Context, err error, stage string, seed uint64) {
	if err == nil {
		return
	}
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("analysis.stage", stage)
		scope.SetTag("analysis.seed", strconv.FormatUint(seed, 10))
		hub.CaptureException(err)
	})
}
