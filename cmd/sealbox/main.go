// Package main provides the command-line interface for the store.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/allisson/sealbox/cmd/sealbox/commands"
)

func main() {
	cmd := &cli.Command{
		Name:    "sealbox",
		Usage:   "Encrypted-at-rest storage and key management",
		Version: "1.0.0",
		Commands: []*cli.Command{
			{
				Name:  "provision",
				Usage: "Create a new store database",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "profile",
						Aliases: []string{"p"},
						Value:   "",
						Usage:   "Name of the default profile (defaults to \"default\")",
					},
					&cli.StringFlag{
						Name:    "algorithm",
						Aliases: []string{"alg"},
						Value:   "",
						Usage:   "Record encryption algorithm (aes-gcm or chacha20-poly1305)",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunProvision(ctx, cmd.String("profile"), cmd.String("algorithm"))
				},
			},
			{
				Name:  "migrate",
				Usage: "Run database migrations",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunMigrate(ctx)
				},
			},
			{
				Name:  "profile",
				Usage: "Manage profiles",
				Commands: []*cli.Command{
					{
						Name:      "create",
						Usage:     "Create a new profile",
						ArgsUsage: "NAME",
						Action: func(ctx context.Context, cmd *cli.Command) error {
							return commands.RunProfileCreate(ctx, cmd.Args().First())
						},
					},
					{
						Name:      "remove",
						Usage:     "Remove a profile and all its entries",
						ArgsUsage: "NAME",
						Action: func(ctx context.Context, cmd *cli.Command) error {
							return commands.RunProfileRemove(ctx, cmd.Args().First())
						},
					},
					{
						Name:      "rename",
						Usage:     "Rename a profile",
						ArgsUsage: "OLD NEW",
						Action: func(ctx context.Context, cmd *cli.Command) error {
							return commands.RunProfileRename(ctx, cmd.Args().Get(0), cmd.Args().Get(1))
						},
					},
					{
						Name:  "list",
						Usage: "List profiles",
						Flags: []cli.Flag{formatFlag()},
						Action: func(ctx context.Context, cmd *cli.Command) error {
							return commands.RunProfileList(ctx, cmd.String("format"))
						},
					},
				},
			},
			{
				Name:      "insert",
				Usage:     "Store a new entry",
				ArgsUsage: "CATEGORY NAME VALUE",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "tags",
						Aliases: []string{"t"},
						Usage:   "JSON object of tags; prefix a name with '~' for plaintext",
					},
					&cli.DurationFlag{
						Name:  "ttl",
						Usage: "Expire the entry after this duration (e.g., 24h)",
					},
					&cli.BoolFlag{
						Name:    "replace",
						Aliases: []string{"r"},
						Usage:   "Overwrite an existing entry with the same category and name",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunInsert(
						ctx,
						cmd.Args().Get(0),
						cmd.Args().Get(1),
						cmd.Args().Get(2),
						cmd.String("tags"),
						cmd.Duration("ttl"),
						cmd.Bool("replace"),
					)
				},
			},
			{
				Name:      "fetch",
				Usage:     "Retrieve one entry",
				ArgsUsage: "CATEGORY NAME",
				Flags:     []cli.Flag{formatFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunFetch(ctx, cmd.Args().Get(0), cmd.Args().Get(1), cmd.String("format"))
				},
			},
			{
				Name:      "list",
				Usage:     "List entries matching a category and tag filter",
				ArgsUsage: "[CATEGORY]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "filter",
						Aliases: []string{"q"},
						Usage:   "Tag filter as WQL JSON (e.g., '{\"color\": \"blue\"}')",
					},
					&cli.Int64Flag{
						Name:    "limit",
						Aliases: []string{"l"},
						Usage:   "Maximum number of entries to return (0 for no limit)",
					},
					formatFlag(),
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunList(
						ctx,
						cmd.Args().First(),
						cmd.String("filter"),
						cmd.String("format"),
						cmd.Int64("limit"),
					)
				},
			},
			{
				Name:      "remove",
				Usage:     "Delete one entry",
				ArgsUsage: "CATEGORY NAME",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunRemove(ctx, cmd.Args().Get(0), cmd.Args().Get(1))
				},
			},
			{
				Name:  "keys",
				Usage: "Manage stored keys",
				Commands: []*cli.Command{
					{
						Name:      "generate",
						Usage:     "Generate and store a new key",
						ArgsUsage: "NAME",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:    "algorithm",
								Aliases: []string{"alg"},
								Value:   "ed25519",
								Usage:   "Key algorithm (a256gcm, c20p, ed25519, x25519, p256)",
							},
							&cli.StringFlag{
								Name:    "metadata",
								Aliases: []string{"m"},
								Usage:   "Caller-owned metadata attached to the key",
							},
							&cli.StringFlag{
								Name:    "tags",
								Aliases: []string{"t"},
								Usage:   "JSON object of tags; prefix a name with '~' for plaintext",
							},
						},
						Action: func(ctx context.Context, cmd *cli.Command) error {
							return commands.RunKeyGenerate(
								ctx,
								cmd.Args().First(),
								cmd.String("algorithm"),
								cmd.String("metadata"),
								cmd.String("tags"),
							)
						},
					},
					{
						Name:      "fetch",
						Usage:     "Retrieve a stored key",
						ArgsUsage: "NAME",
						Flags:     []cli.Flag{formatFlag()},
						Action: func(ctx context.Context, cmd *cli.Command) error {
							return commands.RunKeyFetch(ctx, cmd.Args().First(), cmd.String("format"))
						},
					},
					{
						Name:  "list",
						Usage: "List stored keys",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:    "algorithm",
								Aliases: []string{"alg"},
								Usage:   "Restrict to one key algorithm",
							},
							formatFlag(),
						},
						Action: func(ctx context.Context, cmd *cli.Command) error {
							return commands.RunKeyList(ctx, cmd.String("algorithm"), cmd.String("format"))
						},
					},
					{
						Name:      "remove",
						Usage:     "Delete a stored key",
						ArgsUsage: "NAME",
						Action: func(ctx context.Context, cmd *cli.Command) error {
							return commands.RunKeyRemove(ctx, cmd.Args().First())
						},
					},
				},
			},
			{
				Name:  "sweep",
				Usage: "Delete expired entries",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunSweep(ctx)
				},
			},
			{
				Name:  "rekey",
				Usage: "Re-wrap every profile key under a new wrap key",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "new-passphrase",
						Usage: "New passphrase for the wrap key",
					},
					&cli.StringFlag{
						Name:  "new-wrap-key",
						Usage: "New hex-encoded 32-byte raw wrap key",
					},
					&cli.StringFlag{
						Name:  "kdf-level",
						Usage: "Argon2 cost level for the new passphrase (int or mod)",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunRekey(
						ctx,
						cmd.String("new-passphrase"),
						cmd.String("new-wrap-key"),
						cmd.String("kdf-level"),
					)
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("command error", slog.Any("error", err))
		os.Exit(1)
	}
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Value:   "text",
		Usage:   "Output format: 'text' or 'json'",
	}
}
