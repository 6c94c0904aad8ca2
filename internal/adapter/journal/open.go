package journal

import (
	"context"
	"fmt"
	"log/slog"

	"krontab/internal/config"
)

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.Journal, log *slog.Logger) (Store, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "journal"), slog.String("driver", cfg.Driver))

	var (
		store Store
		err   error
	)
	switch cfg.Driver {
	case config.JournalNone:
		store = Nop{}
	case config.JournalMemory, "":
		store = NewMemory(DefaultRetention)
	case config.JournalSQLite:
		store, err = OpenSQLite(ctx, cfg.SQLitePath, DefaultRetention)
	case config.JournalPostgres:
		store, err = OpenPostgres(ctx, cfg.PostgresDSN, DefaultRetention)
	default:
		return nil, fmt.Errorf("journal: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	log.Info("journal opened", slog.Int("retention", DefaultRetention))
	return store, nil
}
