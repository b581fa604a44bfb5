package commands

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/allisson/sealbox"
	"github.com/allisson/sealbox/crypto"
	"github.com/allisson/sealbox/internal/config"
)

// RunKeyGenerate generates a fresh key of the given algorithm and stores it
// under the given name.
func RunKeyGenerate(ctx context.Context, name, algorithm, metadata, tagsJSON string) error {
	cfg := config.Load()
	logger := newLogger(cfg)

	keyTags, err := parseTags(tagsJSON)
	if err != nil {
		return err
	}

	key, err := crypto.GenerateKey(crypto.KeyAlg(algorithm))
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	defer key.Close()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store, logger)

	session, err := store.Session(ctx, cfg.Profile)
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	if err := session.InsertKey(ctx, name, key, metadata, keyTags, nil); err != nil {
		return fmt.Errorf("failed to store key: %w", err)
	}

	logger.Info("key generated",
		slog.String("name", name),
		slog.String("algorithm", algorithm),
	)
	fmt.Printf("Generated %s key %q\n", algorithm, name)
	return nil
}

// RunKeyFetch retrieves a stored key and prints its public half and metadata.
// Secret material is never printed.
func RunKeyFetch(ctx context.Context, name, format string) error {
	cfg := config.Load()
	logger := newLogger(cfg)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store, logger)

	session, err := store.Session(ctx, cfg.Profile)
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	entry, err := session.FetchKey(ctx, name, false)
	if err != nil {
		return fmt.Errorf("failed to fetch key: %w", err)
	}
	if entry == nil {
		return fmt.Errorf("key %q not found", name)
	}
	defer entry.Key.Close()

	printKey(entry, format)
	return nil
}

// RunKeyList prints stored keys, optionally restricted to one algorithm.
func RunKeyList(ctx context.Context, algorithm, format string) error {
	cfg := config.Load()
	logger := newLogger(cfg)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store, logger)

	session, err := store.Session(ctx, cfg.Profile)
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	keys, err := session.FetchAllKeys(ctx, crypto.KeyAlg(algorithm), nil, 0)
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}

	for _, entry := range keys {
		printKey(entry, format)
		entry.Key.Close()
	}

	logger.Info("keys listed", slog.Int("count", len(keys)))
	return nil
}

// RunKeyRemove deletes a stored key.
func RunKeyRemove(ctx context.Context, name string) error {
	cfg := config.Load()
	logger := newLogger(cfg)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store, logger)

	session, err := store.Session(ctx, cfg.Profile)
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	if err := session.RemoveKey(ctx, name); err != nil {
		return fmt.Errorf("failed to remove key: %w", err)
	}

	logger.Info("key removed", slog.String("name", name))
	fmt.Printf("Removed key %q\n", name)
	return nil
}

// printKey outputs a key entry without its secret material.
func printKey(entry *sealbox.KeyEntry, format string) {
	public, err := entry.Key.PublicBytes()
	publicB64 := ""
	if err == nil && public != nil {
		publicB64 = base64.StdEncoding.EncodeToString(public)
	}

	if format == "json" {
		result := map[string]any{
			"name":       entry.Name,
			"algorithm":  string(entry.Key.Algorithm()),
			"metadata":   entry.Metadata,
			"created_at": entry.CreatedAt.UTC().Format(time.RFC3339),
		}
		if publicB64 != "" {
			result["public_key"] = publicB64
		}
		printJSON(result)
		return
	}

	fmt.Printf("%s (%s)\n", entry.Name, entry.Key.Algorithm())
	if entry.Metadata != "" {
		fmt.Printf("  metadata: %s\n", entry.Metadata)
	}
	if publicB64 != "" {
		fmt.Printf("  public: %s\n", publicB64)
	}
	fmt.Printf("  created: %s\n", entry.CreatedAt.UTC().Format(time.RFC3339))
}
