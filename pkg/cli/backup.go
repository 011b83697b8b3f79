package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/strata/pkg/adapter"
	"github.com/m-mizutani/strata/pkg/usecase/backup"
	"github.com/urfave/cli/v3"
)

func storageFlags(bucket, prefix *string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "bucket",
			Aliases:     []string{"b"},
			Usage:       "Cloud Storage bucket name",
			Sources:     cli.EnvVars("STRATA_BACKUP_BUCKET"),
			Destination: bucket,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "prefix",
			Usage:       "Object key prefix",
			Value:       "strata",
			Sources:     cli.EnvVars("STRATA_BACKUP_PREFIX"),
			Destination: prefix,
		},
	}
}

// newStorage creates a new Storage adapter instance
func newStorage(ctx context.Context, bucketName string) (adapter.Storage, error) {
	if bucketName == "" {
		return nil, goerr.New("bucket name is required")
	}

	storage, err := adapter.NewStorage(ctx, bucketName)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage")
	}
	return storage, nil
}

func backupCommand() *cli.Command {
	var (
		cfg    config
		bucket string
		prefix string
	)

	flags := storageFlags(&bucket, &prefix)
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "backup",
		Usage: "Upload the history files to Cloud Storage",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx, c.Root().ErrWriter)

			storage, err := newStorage(ctx, bucket)
			if err != nil {
				return err
			}

			keys, err := backup.Backup(ctx, storage, cfg.layout(), prefix)
			if err != nil {
				return goerr.Wrap(err, "failed to back up history")
			}
			for _, key := range keys {
				fmt.Fprintf(c.Root().Writer, "gs://%s/%s\n", bucket, key)
			}
			return nil
		},
	}
}

func restoreCommand() *cli.Command {
	var (
		cfg    config
		bucket string
		prefix string
	)

	flags := storageFlags(&bucket, &prefix)
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "restore",
		Usage: "Replace the local history files with the copies in Cloud Storage",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx, c.Root().ErrWriter)

			storage, err := newStorage(ctx, bucket)
			if err != nil {
				return err
			}

			restored, err := backup.Restore(ctx, storage, cfg.layout(), prefix)
			if err != nil {
				return goerr.Wrap(err, "failed to restore history")
			}
			for _, path := range restored {
				fmt.Fprintln(c.Root().Writer, path)
			}
			return nil
		},
	}
}
