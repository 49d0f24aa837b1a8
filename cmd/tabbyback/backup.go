package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/tabbyclass/tabbyback/internal/archive"
	"github.com/tabbyclass/tabbyback/internal/backup"
	"github.com/tabbyclass/tabbyback/internal/store"
)

var backupCommand = &cli.Command{
	Name:  "backup",
	Usage: "Archive a directory tree and upload it with its checksum",
	Flags: append(storeFlags(),
		&cli.StringFlag{
			Name:  "source",
			Usage: "Directory tree to archive",
		},
		&cli.StringFlag{
			Name:  "label",
			Usage: "Backup series label, forms <label>_<date>.tar.zst",
		},
		&cli.StringFlag{
			Name:  "prefix",
			Usage: "Object key prefix (default: <label>-backups/)",
		},
		&cli.StringSliceFlag{
			Name:  "exclude",
			Usage: "Relative path to omit from the archive (can be repeated)",
		},
		&cli.BoolFlag{
			Name:  "cleanup",
			Usage: "Remove local archive and checksum file after successful upload",
		},
		&cli.BoolFlag{
			Name:  "require-system-tools",
			Usage: "Fail instead of falling back to in-process compression when tar/zstd are missing",
		},
	),
	Action: func(ctx context.Context, command *cli.Command) error {
		logger := getLogger(ctx)

		storeSpec, target, err := loadPlanTarget(command)
		if err != nil {
			return err
		}

		opts := backup.Options{
			WorkDir:      command.String("work-dir"),
			CleanupLocal: command.Bool("cleanup"),
		}
		if target != nil {
			opts.SourceDir = target.Source
			opts.Label = target.Label
			opts.Prefix = target.Prefix
			opts.Exclusions = target.Exclude
		}
		if command.IsSet("source") {
			opts.SourceDir = command.String("source")
		}
		if command.IsSet("label") {
			opts.Label = command.String("label")
		}
		if command.IsSet("prefix") {
			opts.Prefix = command.String("prefix")
		}
		if command.IsSet("exclude") {
			opts.Exclusions = command.StringSlice("exclude")
		}

		if opts.SourceDir == "" {
			return fmt.Errorf("no source directory provided (use --source or a plan file)")
		}
		if opts.Label == "" {
			return fmt.Errorf("no label provided (use --label or a plan file)")
		}
		if opts.Prefix == "" {
			opts.Prefix = opts.Label + "-backups/"
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
			opts.Progress = transferProgress("backup")
		}

		result, err := backup.New(logger.Named("backup"), client, archiver).Run(ctx, opts)
		if err != nil {
			return err
		}

		fmt.Printf("backup complete: s3://%s/%s (sha256 %s)\n",
			client.Bucket(), result.ArchiveKey, result.Digest)
		return nil
	},
}
