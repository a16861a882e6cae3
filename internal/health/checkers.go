package health

import (
	"context"
	"fmt"

	"github.com/MrWong99/aurist/internal/model"
	"github.com/MrWong99/aurist/pkg/provider/asr/remote"
)

// BackendLoaded reports ready once the backend for cfg is resident and
// finished loading. Before the first Acquire the check fails, which keeps the
// server out of rotation until its model is in memory.
func BackendLoaded(mgr *model.Manager, cfg model.Config) Checker {
	key := cfg.Key()
	return Checker{
		Name: "model",
		Check: func(_ context.Context) error {
			for _, st := range mgr.Status() {
				if st.Key != key {
					continue
				}
				if !st.Loaded {
					return fmt.Errorf("backend %s is still loading", key)
				}
				return nil
			}
			return fmt.Errorf("backend %s is not resident", key)
		},
	}
}

// ModeldReachable pings the standalone inference daemon at addr. Each probe
// opens a fresh connection so a wedged daemon is noticed even when older
// connections are still open.
func ModeldReachable(addr string) Checker {
	return Checker{
		Name: "modeld",
		Check: func(ctx context.Context) error {
			client, err := remote.Dial(addr)
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}
			defer client.Close()
			if err := client.Ping(ctx); err != nil {
				return fmt.Errorf("ping %s: %w", addr, err)
			}
			return nil
		},
	}
}
