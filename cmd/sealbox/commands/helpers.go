// Package commands contains CLI command implementations for the store.
package commands

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/allisson/sealbox"
	"github.com/allisson/sealbox/internal/config"
	"github.com/allisson/sealbox/tags"

	_ "github.com/allisson/sealbox/backend/mysql"
	_ "github.com/allisson/sealbox/backend/postgres"
	_ "github.com/allisson/sealbox/backend/sqlite"
)

// newLogger creates a slog logger honoring the configured level.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// storeOptions builds store options from the configured wrap-key source.
func storeOptions(cfg *config.Config) (sealbox.Options, error) {
	opts := sealbox.Options{Passphrase: cfg.Passphrase}
	if cfg.WrapKeyHex != "" {
		key, err := hex.DecodeString(cfg.WrapKeyHex)
		if err != nil {
			return opts, fmt.Errorf("invalid SEALBOX_WRAP_KEY: %w", err)
		}
		opts.WrapKey = key
	}
	return opts, nil
}

// openStore opens the configured store.
func openStore(ctx context.Context, cfg *config.Config) (*sealbox.Store, error) {
	opts, err := storeOptions(cfg)
	if err != nil {
		return nil, err
	}

	store, err := sealbox.Open(ctx, cfg.StoreURI, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return store, nil
}

// closeStore closes the store and logs any errors.
func closeStore(store *sealbox.Store, logger *slog.Logger) {
	if err := store.Close(); err != nil {
		logger.Error("failed to close store", slog.Any("error", err))
	}
}

// printJSON outputs a result in JSON format for machine consumption.
func printJSON(result any) {
	jsonBytes, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal JSON: %v\n", err)
		return
	}

	fmt.Println(string(jsonBytes))
}

// parseTags parses a JSON object of tag names to values. Names starting with
// "~" become plaintext tags.
func parseTags(tagsJSON string) ([]sealbox.TagEntry, error) {
	if tagsJSON == "" {
		return nil, nil
	}

	var raw map[string]string
	if err := json.Unmarshal([]byte(tagsJSON), &raw); err != nil {
		return nil, fmt.Errorf("invalid tags: %w", err)
	}

	out := make([]sealbox.TagEntry, 0, len(raw))
	for name, value := range raw {
		if rest, ok := strings.CutPrefix(name, tags.PlaintextPrefix); ok {
			out = append(out, sealbox.PlainTag(rest, value))
		} else {
			out = append(out, sealbox.Tag(name, value))
		}
	}
	return out, nil
}
