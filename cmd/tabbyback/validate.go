package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/tabbyclass/tabbyback/internal/plan"
)

var validateCommand = &cli.Command{
	Name:  "validate",
	Usage: "Validate a backup plan file",
	Arguments: []cli.Argument{
		&cli.StringArg{
			Name:      "plan",
			UsageText: "The plan file to validate",
		},
	},
	Action: func(ctx context.Context, command *cli.Command) error {
		logger := getLogger(ctx)

		planFilename := command.StringArg("plan")
		if planFilename == "" {
			return fmt.Errorf("no plan file provided")
		}

		logger.Debug("validating plan file", zap.String("plan_filename", planFilename))

		p, err := plan.Load(planFilename)
		if err != nil {
			fmt.Println(formatValidationError(err))
			return fmt.Errorf("plan file '%s' is invalid", planFilename)
		}

		fmt.Printf("✓ Plan file '%s' is valid (%d target(s))\n", planFilename, len(p.Spec.Targets))
		return nil
	},
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("plan file has %d validation error(s):", len(validationErrs)))
		for _, fe := range validationErrs {
			sb.WriteString(fmt.Sprintf("\n  • %s: failed '%s' validation", fe.Namespace(), fe.Tag()))
			if fe.Param() != "" {
				sb.WriteString(fmt.Sprintf(" (param: %s)", fe.Param()))
			}
		}
		return errors.New(sb.String())
	}
	return err
}
