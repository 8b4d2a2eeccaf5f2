package health

import (
	"context"
	"errors"
)

// Pinger is implemented by stores that can probe their backing connection,
// such as the postgres history store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker returns a Checker that probes the history store backend.
func StoreChecker(p Pinger) Checker {
	return Checker{Name: "store", Check: p.Ping}
}

// ProviderChecker returns a Checker that reports whether a provider of the
// given kind is configured. Provider liveness is not probed; a missing
// provider is the only failure this check can report.
func ProviderChecker(kind string, configured bool) Checker {
	return Checker{
		Name: kind,
		Check: func(context.Context) error {
			if !configured {
				return errors.New("not configured")
			}
			return nil
		},
	}
}
