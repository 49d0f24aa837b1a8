package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/tabbyclass/tabbyback/internal/archive"
	"github.com/tabbyclass/tabbyback/internal/restore"
	"github.com/tabbyclass/tabbyback/internal/store"
)

var restoreCommand = &cli.Command{
	Name:  "restore",
	Usage: "Download the newest backup, verify it, and extract it",
	Flags: append(storeFlags(),
		&cli.StringFlag{
			Name:  "label",
			Usage: "Backup series label (used to derive the prefix)",
		},
		&cli.StringFlag{
			Name:  "prefix",
			Usage: "Object key prefix to search (default: <label>-backups/)",
		},
		&cli.StringFlag{
			Name:  "dest",
			Usage: "Directory the archive is extracted under (default: home directory)",
		},
		&cli.BoolFlag{
			Name:  "cleanup",
			Usage: "Remove the downloaded archive after successful extraction",
		},
		&cli.BoolFlag{
			Name:  "require-system-tools",
			Usage: "Fail instead of falling back to in-process decompression when tar/zstd are missing",
		},
	),
	Action: func(ctx context.Context, command *cli.Command) error {
		logger := getLogger(ctx)

		storeSpec, target, err := loadPlanTarget(command)
		if err != nil {
			return err
		}

		opts := restore.Options{
			DestDir:      command.String("dest"),
			WorkDir:      command.String("work-dir"),
			CleanupLocal: command.Bool("cleanup"),
		}
		if target != nil {
			opts.Prefix = target.Prefix
		}
		if command.IsSet("prefix") {
			opts.Prefix = command.String("prefix")
		}
		if opts.Prefix == "" {
			if label := command.String("label"); label != "" {
				opts.Prefix = label + "-backups/"
			} else {
				return fmt.Errorf("no prefix provided (use --prefix, --label or a plan file)")
			}
		}
		if opts.DestDir == "" {
			home, herr := os.UserHomeDir()
			if herr != nil {
				return fmt.Errorf("failed to resolve home directory: %w", herr)
			}
			opts.DestDir = home
		}

		client, err := store.NewClient(ctx, logger.Named("store"), resolveStoreConfig(command, storeSpec))
		if err != nil {
			return fmt.Errorf("failed to create store client: %w", err)
		}

		archiver, err := archive.New(logger.Named("archive"), archive.Options{
			RequireSystem: command.Bool("require-system-tools"),
		})
		if err != nil {
			return err
		}

		if isInteractive(ctx) {
			opts.Progress = transferProgress("restore")
		}

		if err := restore.New(logger.Named("restore"), client, archiver).Run(ctx, opts); err != nil {
			if errors.Is(err, restore.ErrNoBackupFound) {
				return fmt.Errorf("no backup found in s3://%s under %q", client.Bucket(), opts.Prefix)
			}
			return err
		}

		fmt.Printf("restore complete under %s\n", opts.DestDir)
		return nil
	},
}
