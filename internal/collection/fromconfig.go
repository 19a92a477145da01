package collection

import (
	"github.com/sigmacore/sigmacore/internal/config"
	"github.com/sigmacore/sigmacore/internal/corrstate"
	"github.com/sigmacore/sigmacore/internal/rules"
)

// Loaded is everything FromConfig builds: the active collection (via
// Watcher when config.Rules.Watch is set, directly otherwise), the
// correlation-state backend it was bound to, and any per-rule load
// failures tolerated by FromDirectory.
type Loaded struct {
	Collection *Collection
	Watcher    *Watcher // nil unless cfg.Rules.Watch is true
	Backend    corrstate.Backend
	Failures   []rules.Failure
}

// FromConfig builds a Collection (or a hot-reloading Watcher over one)
// from a loaded configuration: cfg.State.Backend picks the correlation
// backend, and cfg.Rules.Watch picks between a one-shot load and
// NewWatcher. cfg.ApplyLogging is left to the caller, since FromConfig
// only wires the rule/state half of the configuration.
func FromConfig(cfg *config.Config) (*Loaded, error) {
	backend, err := newBackend(cfg.State)
	if err != nil {
		return nil, err
	}

	if cfg.Rules.Watch {
		w, failures, err := NewWatcher(cfg.Rules.Path, backend)
		if err != nil {
			backend.Close()
			return nil, err
		}
		return &Loaded{Collection: w.Current(), Watcher: w, Backend: backend, Failures: failures}, nil
	}

	c, failures, err := FromDirectory(cfg.Rules.Path)
	if err != nil {
		backend.Close()
		return nil, err
	}
	if err := c.RegisterBackend(backend); err != nil {
		backend.Close()
		return nil, err
	}
	return &Loaded{Collection: c, Backend: backend, Failures: failures}, nil
}

func newBackend(cfg config.StateConfig) (corrstate.Backend, error) {
	switch cfg.Backend {
	case "bbolt":
		return corrstate.OpenBboltBackend(cfg.DBPath, cfg.SyncWrites)
	default:
		return corrstate.NewMemoryBackend(), nil
	}
}
