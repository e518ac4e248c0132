// Package store persists the auction record: the Config and Status
// singletons and the ledger entries keyed by bidder.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudx-io/openbidding/core"
)

var ErrNotFound = errors.New("not found")

// Reader reads the auction record. Reads observe writes made earlier in the
// same transaction.
type Reader interface {
	LoadConfig() (core.Config, error)
	LoadStatus() (core.Status, error)
	GetEntry(id core.Identity) (core.LedgerEntry, error)
	Entries() ([]core.LedgerEntry, error)
}

// Writer is a Reader that can also modify the record.
type Writer interface {
	Reader
	SaveConfig(core.Config) error
	SaveStatus(core.Status) error
	SetEntry(core.LedgerEntry) error
}

// Store runs functions inside transactions. An Update whose function returns
// an error leaves the record exactly as it was.
type Store interface {
	View(ctx context.Context, fn func(Reader) error) error
	Update(ctx context.Context, fn func(Writer) error) error
	Close() error
}

// LoadView reads the full record. It returns core.ErrNotInitialized if no
// auction has been instantiated.
func LoadView(r Reader) (core.View, error) {
	config, err := r.LoadConfig()
	if errors.Is(err, ErrNotFound) {
		return core.View{}, core.ErrNotInitialized
	}
	if err != nil {
		return core.View{}, fmt.Errorf("failed to load config: %w", err)
	}
	status, err := r.LoadStatus()
	if err != nil {
		return core.View{}, fmt.Errorf("failed to load status: %w", err)
	}
	entries, err := r.Entries()
	if err != nil {
		return core.View{}, fmt.Errorf("failed to load ledger: %w", err)
	}
	return core.View{Config: config, Status: status, Ledger: core.NewLedger(entries...)}, nil
}

// Persist writes everything o changes.
func Persist(w Writer, o *core.Outcome) error {
	if o.Config != nil {
		if err := w.SaveConfig(*o.Config); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
	}
	if o.Status != nil {
		if err := w.SaveStatus(*o.Status); err != nil {
			return fmt.Errorf("failed to save status: %w", err)
		}
	}
	for _, e := range o.Writes {
		if err := w.SetEntry(e); err != nil {
			return fmt.Errorf("failed to save ledger entry for %s: %w", e.Bidder, err)
		}
	}
	return nil
}

// Config selects and configures a Store implementation.
type Config struct {
	// Driver is one of "memory", "sqlite" or "postgres".
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}
