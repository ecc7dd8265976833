package remote

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/vdrive/internal/vfs"
)

// Compose builds M1(M2(...Mn(D)...)) from a base driver factory and an
// outermost-first middleware list. Every link's version range is checked
// against protocol before anything is constructed, so a mismatch never
// leaves a half-built chain behind.
func Compose(
	ctx context.Context, protocol string, base DriverFactory, mws []MiddlewareFactory, rc Context,
) (Driver, error) {
	if rc.Logger == nil {
		rc.Logger = slog.Default()
	}

	if err := base.Versions.Check(protocol); err != nil {
		return nil, &vfs.ConfigurationError{Subject: "driver " + base.Name, Err: err}
	}

	for _, mw := range mws {
		if err := mw.Versions.Check(protocol); err != nil {
			return nil, &vfs.ConfigurationError{Subject: "middleware " + mw.Name, Err: err}
		}
	}

	d, err := base.New(ctx, rc)
	if err != nil {
		return nil, fmt.Errorf("remote: constructing driver %s: %w", base.Name, err)
	}

	// Innermost middleware wraps the driver first.
	for i := len(mws) - 1; i >= 0; i-- {
		d, err = mws[i].New(ctx, rc, d)
		if err != nil {
			return nil, fmt.Errorf("remote: constructing middleware %s: %w", mws[i].Name, err)
		}
	}

	rc.Logger.Debug("remote chain composed",
		slog.String("driver", base.Name),
		slog.Int("middleware", len(mws)),
		slog.String("protocol", protocol),
	)

	return d, nil
}

// Build resolves driver and middleware names through the registry and
// composes them.
func Build(ctx context.Context, protocol, driver string, middleware []string, rc Context) (Driver, error) {
	base, err := LookupDriver(driver)
	if err != nil {
		return nil, err
	}

	mws, err := LookupMiddleware(middleware)
	if err != nil {
		return nil, err
	}

	return Compose(ctx, protocol, base, mws, rc)
}
