package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/allisson/sealbox"
	"github.com/allisson/sealbox/crypto"
	"github.com/allisson/sealbox/internal/config"
)

// RunProvision creates a new store database: schema, configuration and the
// default profile. The wrap key comes from SEALBOX_PASSPHRASE or
// SEALBOX_WRAP_KEY.
func RunProvision(ctx context.Context, profile, algorithm string) error {
	cfg := config.Load()
	logger := newLogger(cfg)

	opts, err := storeOptions(cfg)
	if err != nil {
		return err
	}
	opts.KDFLevel = cfg.KDFLevel
	opts.DefaultProfile = profile
	opts.Algorithm = crypto.Algorithm(algorithm)

	logger.Info("provisioning store", slog.String("uri", cfg.StoreURI))

	store, err := sealbox.Provision(ctx, cfg.StoreURI, opts)
	if err != nil {
		return fmt.Errorf("failed to provision store: %w", err)
	}
	defer closeStore(store, logger)

	fmt.Printf("Store provisioned with default profile %q\n", store.DefaultProfile())
	return nil
}
