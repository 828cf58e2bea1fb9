package sentryutil

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/barterlabs/go-barter/env"
	"github.com/barterlabs/go-barter/service/logger"
	"github.com/barterlabs/go-barter/util"
)

const errorContextName = "error context"

type errorContext struct {
	Mapped   bool
	MappedTo string
}

// Init configures the global sentry client from the environment. A missing
// DSN disables reporting without failing startup.
func Init(ctx context.Context) {
	dsn := env.GetString(ctx, "SENTRY_DSN")
	if dsn == "" {
		logger.For(ctx).Info("sentry: no DSN configured, error reporting disabled")
		return
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      env.GetString(ctx, "ENV"),
		AttachStacktrace: true,
	})
	if err != nil {
		logger.For(ctx).Errorf("sentry: init failed: %s", err)
	}
}

// ReportRemappedError reports an error that was converted to another type
// before being returned to a caller, preserving the original.
func ReportRemappedError(ctx context.Context, originalErr error, remappedErr interface{}) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	if hub == nil {
		logger.For(ctx).Warnln("could not report error to Sentry because hub is nil")
		return
	}

	// Use a new scope so our error context and tag don't persist beyond this error
	hub.WithScope(func(scope *sentry.Scope) {
		if gc := util.GinContextFromContext(ctx); gc != nil {
			scope.SetRequest(gc.Request)
		}

		if remappedErr != nil {
			SetErrorContext(scope, true, fmt.Sprintf("%T", remappedErr))
			scope.SetTag("remappedError", "true")
		} else {
			SetErrorContext(scope, false, "")
		}

		hub.CaptureException(originalErr)
	})
}

// ReportError reports an error as-is.
func ReportError(ctx context.Context, err error) {
	ReportRemappedError(ctx, err, nil)
}

// SetErrorContext annotates the scope with remapping information.
func SetErrorContext(scope *sentry.Scope, mapped bool, mappedTo string) {
	errCtx := errorContext{Mapped: mapped, MappedTo: mappedTo}
	scope.SetContext(errorContextName, map[string]interface{}{
		"Mapped":   errCtx.Mapped,
		"MappedTo": errCtx.MappedTo,
	})
}

// Flush drains buffered events; called on shutdown.
func Flush() {
	sentry.Flush(2 * time.Second)
}
