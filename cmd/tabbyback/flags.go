package main

import (
	"fmt"

	"github.com/urfave/cli/v3"

	v1 "github.com/tabbyclass/tabbyback/apis/v1"
	"github.com/tabbyclass/tabbyback/internal/plan"
	"github.com/tabbyclass/tabbyback/internal/store"
)

// Defaults match the deployment this tool grew up in: Hetzner Object
// Storage addressed via a shared-credentials profile.
const (
	defaultBucket   = "tabby-models"
	defaultEndpoint = "https://fsn1.your-objectstorage.com"
	defaultRegion   = "fsn1"
	defaultProfile  = "hetzner"
)

// storeFlags are shared by the backup and restore commands. Access keys are
// never flags: the SDK reads AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY or the
// credentials file for the selected profile.
func storeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "plan",
			Usage:   "Backup plan file (YAML)",
			Sources: cli.EnvVars("TABBYBACK_PLAN"),
		},
		&cli.StringFlag{
			Name:  "target",
			Usage: "Target label from the plan file",
		},
		&cli.StringFlag{
			Name:    "bucket",
			Value:   defaultBucket,
			Usage:   "S3 bucket name",
			Sources: cli.EnvVars("TABBYBACK_BUCKET"),
		},
		&cli.StringFlag{
			Name:    "endpoint",
			Value:   defaultEndpoint,
			Usage:   "S3 endpoint URL",
			Sources: cli.EnvVars("TABBYBACK_ENDPOINT"),
		},
		&cli.StringFlag{
			Name:    "region",
			Value:   defaultRegion,
			Usage:   "S3 region",
			Sources: cli.EnvVars("TABBYBACK_REGION"),
		},
		&cli.StringFlag{
			Name:    "profile",
			Value:   defaultProfile,
			Usage:   "AWS credentials profile",
			Sources: cli.EnvVars("TABBYBACK_PROFILE"),
		},
		&cli.BoolFlag{
			Name:  "force-path-style",
			Usage: "Use path-style addressing (MinIO and some S3-compatible services)",
		},
		&cli.StringFlag{
			Name:  "work-dir",
			Usage: "Scratch directory for local artifacts (default: system temp)",
		},
	}
}

// loadPlanTarget resolves the optional plan file into its store spec and
// the selected target. Both are nil when no plan is given.
func loadPlanTarget(command *cli.Command) (*v1.StoreSpec, *v1.Target, error) {
	planPath := command.String("plan")
	if planPath == "" {
		return nil, nil, nil
	}

	p, err := plan.Load(planPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load plan %s: %w", planPath, err)
	}

	target, err := plan.FindTarget(p, command.String("target"))
	if err != nil {
		return nil, nil, err
	}

	return &p.Spec.Store, &target, nil
}

// resolveStoreConfig builds the store config once, up front. Plan values
// override flag defaults; explicitly set flags and environment variables
// override the plan.
func resolveStoreConfig(command *cli.Command, spec *v1.StoreSpec) store.Config {
	cfg := store.Config{
		Bucket:         command.String("bucket"),
		Endpoint:       command.String("endpoint"),
		Region:         command.String("region"),
		Profile:        command.String("profile"),
		ForcePathStyle: command.Bool("force-path-style"),
	}
	if spec == nil {
		return cfg
	}

	if spec.Bucket != "" && !command.IsSet("bucket") {
		cfg.Bucket = spec.Bucket
	}
	if spec.Endpoint != "" && !command.IsSet("endpoint") {
		cfg.Endpoint = spec.Endpoint
	}
	if spec.Region != "" && !command.IsSet("region") {
		cfg.Region = spec.Region
	}
	if spec.Profile != "" && !command.IsSet("profile") {
		cfg.Profile = spec.Profile
	}
	if spec.ForcePathStyle && !command.IsSet("force-path-style") {
		cfg.ForcePathStyle = true
	}
	return cfg
}
