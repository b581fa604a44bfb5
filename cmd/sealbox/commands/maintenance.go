package commands

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/allisson/sealbox"
	"github.com/allisson/sealbox/backend"
	"github.com/allisson/sealbox/internal/config"
)

// RunMigrate applies pending schema migrations without opening the store.
//
// Requirements: the database must be reachable; no wrap key is needed.
func RunMigrate(ctx context.Context) error {
	cfg := config.Load()
	logger := newLogger(cfg)

	db, err := backend.Open(cfg.StoreURI)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()

	if err := backend.Migrate(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("migrations applied")
	fmt.Println("Migrations applied")
	return nil
}

// RunSweep deletes entries whose expiry has passed and reports the count.
func RunSweep(ctx context.Context) error {
	cfg := config.Load()
	logger := newLogger(cfg)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store, logger)

	count, err := store.SweepExpired(ctx)
	if err != nil {
		return fmt.Errorf("failed to sweep expired entries: %w", err)
	}

	logger.Info("sweep completed", slog.Int64("count", count))
	fmt.Printf("Removed %d expired entr%s\n", count, plural(count, "y", "ies"))
	return nil
}

// RunRekey re-wraps every profile key under a new wrap key built from the
// given passphrase or hex-encoded raw key.
func RunRekey(ctx context.Context, newPassphrase, newWrapKeyHex, kdfLevel string) error {
	cfg := config.Load()
	logger := newLogger(cfg)

	newKey, err := buildWrapKey(newPassphrase, newWrapKeyHex, kdfLevel)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store, logger)

	if err := store.Rekey(ctx, newKey); err != nil {
		return fmt.Errorf("failed to rekey store: %w", err)
	}

	logger.Info("store rekeyed")
	fmt.Println("Store rekeyed")
	return nil
}

func buildWrapKey(passphrase, wrapKeyHex, kdfLevel string) (*sealbox.WrapKey, error) {
	switch {
	case passphrase != "" && wrapKeyHex != "":
		return nil, fmt.Errorf("exactly one of passphrase and wrap key must be set")
	case passphrase != "":
		return sealbox.NewPassphraseWrapKey(passphrase, kdfLevel)
	case wrapKeyHex != "":
		key, err := hex.DecodeString(wrapKeyHex)
		if err != nil {
			return nil, fmt.Errorf("invalid wrap key: %w", err)
		}
		return sealbox.NewRawWrapKey(key)
	default:
		return nil, fmt.Errorf("exactly one of passphrase and wrap key must be set")
	}
}

func plural(n int64, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
