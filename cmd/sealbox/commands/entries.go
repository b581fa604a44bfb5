package commands

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/allisson/sealbox"
	"github.com/allisson/sealbox/internal/config"
	"github.com/allisson/sealbox/tags"
)

// RunInsert stores a new entry in the configured profile. tagsJSON is a JSON
// object of tag names to values; names starting with "~" become plaintext
// tags. A non-zero ttl sets the entry's expiry.
func RunInsert(ctx context.Context, category, name, value, tagsJSON string, ttl time.Duration, replace bool) error {
	cfg := config.Load()
	logger := newLogger(cfg)

	entryTags, err := parseTags(tagsJSON)
	if err != nil {
		return err
	}

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

	entry := &sealbox.Entry{
		Category: category,
		Name:     name,
		Value:    []byte(value),
		Tags:     entryTags,
	}
	if ttl > 0 {
		expiry := time.Now().Add(ttl)
		entry.Expiry = &expiry
	}

	if replace {
		err = session.Replace(ctx, entry)
	} else {
		err = session.Insert(ctx, entry)
	}
	if err != nil {
		return fmt.Errorf("failed to store entry: %w", err)
	}

	logger.Info("entry stored",
		slog.String("category", category),
		slog.String("name", name),
	)
	fmt.Printf("Stored %s/%s\n", category, name)
	return nil
}

// RunFetch retrieves one entry and prints it.
func RunFetch(ctx context.Context, category, name, format string) error {
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

	entry, err := session.Fetch(ctx, category, name, false)
	if err != nil {
		return fmt.Errorf("failed to fetch entry: %w", err)
	}
	if entry == nil {
		return fmt.Errorf("entry %s/%s not found", category, name)
	}

	printEntry(entry, format)
	return nil
}

// RunList retrieves entries matching a category and an optional tag filter
// (WQL JSON) and prints them.
func RunList(ctx context.Context, category, filterJSON, format string, limit int64) error {
	cfg := config.Load()
	logger := newLogger(cfg)

	var filter tags.Filter
	if filterJSON != "" {
		var err error
		filter, err = tags.ParseJSON([]byte(filterJSON))
		if err != nil {
			return fmt.Errorf("invalid filter: %w", err)
		}
	}

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

	scan, err := session.FetchAll(ctx, category, filter, limit, false)
	if err != nil {
		return fmt.Errorf("failed to list entries: %w", err)
	}
	defer scan.Close()

	count := 0
	for scan.Next() {
		entry, err := scan.Entry()
		if err != nil {
			logger.Warn("skipping undecryptable entry", slog.Any("error", err))
			continue
		}
		printEntry(entry, format)
		count++
	}
	if err := scan.Err(); err != nil {
		return fmt.Errorf("failed to list entries: %w", err)
	}

	logger.Info("entries listed", slog.Int("count", count))
	return nil
}

// RunRemove deletes one entry.
func RunRemove(ctx context.Context, category, name string) error {
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

	if err := session.Remove(ctx, category, name); err != nil {
		return fmt.Errorf("failed to remove entry: %w", err)
	}

	logger.Info("entry removed",
		slog.String("category", category),
		slog.String("name", name),
	)
	fmt.Printf("Removed %s/%s\n", category, name)
	return nil
}

// printEntry outputs an entry in the requested format. Values are printed
// verbatim in text mode and base64-encoded in JSON mode.
func printEntry(entry *sealbox.Entry, format string) {
	if format == "json" {
		tagMap := make(map[string]string, len(entry.Tags))
		for _, tag := range entry.Tags {
			key := tag.Name
			if tag.Plaintext {
				key = tags.PlaintextPrefix + key
			}
			tagMap[key] = tag.Value
		}
		result := map[string]any{
			"category": entry.Category,
			"name":     entry.Name,
			"value":    base64.StdEncoding.EncodeToString(entry.Value),
			"tags":     tagMap,
		}
		if entry.Expiry != nil {
			result["expiry"] = entry.Expiry.UTC().Format(time.RFC3339)
		}
		printJSON(result)
		return
	}

	fmt.Printf("%s/%s: %s\n", entry.Category, entry.Name, entry.Value)
	for _, tag := range entry.Tags {
		prefix := ""
		if tag.Plaintext {
			prefix = tags.PlaintextPrefix
		}
		fmt.Printf("  %s%s=%s\n", prefix, tag.Name, tag.Value)
	}
}
