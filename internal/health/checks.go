package health

import (
	"context"
	"errors"
)

// Pinger is the subset of a storage backend needed for readiness probing.
// *postgres.Store satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck builds a [Checker] that probes a storage backend with Ping.
func PingCheck(name string, p Pinger) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			return p.Ping(ctx)
		},
	}
}

// ProviderLister is the subset of the dispatcher needed for readiness
// probing. *dispatch.Dispatcher satisfies it.
type ProviderLister interface {
	Providers() []string
}

// ProvidersCheck builds a [Checker] that fails while no AI providers are
// registered, so the service does not report ready before it can serve a
// single task.
func ProvidersCheck(d ProviderLister) Checker {
	return Checker{
		Name: "providers",
		Check: func(_ context.Context) error {
			if len(d.Providers()) == 0 {
				return errors.New("no providers registered")
			}
			return nil
		},
	}
}
