package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/allisson/sealbox/internal/config"
)

// RunProfileCreate creates a new profile with a fresh key set.
func RunProfileCreate(ctx context.Context, name string) error {
	cfg := config.Load()
	logger := newLogger(cfg)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store, logger)

	if _, err := store.CreateProfile(ctx, name); err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}

	logger.Info("profile created", slog.String("name", name))
	fmt.Printf("Profile %q created\n", name)
	return nil
}

// RunProfileRemove deletes a profile and every entry scoped to it.
func RunProfileRemove(ctx context.Context, name string) error {
	cfg := config.Load()
	logger := newLogger(cfg)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store, logger)

	if err := store.RemoveProfile(ctx, name); err != nil {
		return fmt.Errorf("failed to remove profile: %w", err)
	}

	logger.Info("profile removed", slog.String("name", name))
	fmt.Printf("Profile %q removed\n", name)
	return nil
}

// RunProfileRename changes a profile's name, keeping its key set and entries.
func RunProfileRename(ctx context.Context, oldName, newName string) error {
	cfg := config.Load()
	logger := newLogger(cfg)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store, logger)

	if err := store.RenameProfile(ctx, oldName, newName); err != nil {
		return fmt.Errorf("failed to rename profile: %w", err)
	}

	logger.Info("profile renamed", slog.String("from", oldName), slog.String("to", newName))
	fmt.Printf("Profile %q renamed to %q\n", oldName, newName)
	return nil
}

// RunProfileList prints every profile in the store, marking the default.
func RunProfileList(ctx context.Context, format string) error {
	cfg := config.Load()
	logger := newLogger(cfg)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store, logger)

	names, err := store.ListProfiles(ctx)
	if err != nil {
		return fmt.Errorf("failed to list profiles: %w", err)
	}

	if format == "json" {
		printJSON(map[string]any{"profiles": names, "default": store.DefaultProfile()})
		return nil
	}

	for _, name := range names {
		marker := ""
		if name == store.DefaultProfile() {
			marker = " (default)"
		}
		fmt.Printf("%s%s\n", name, marker)
	}
	return nil
}
