package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iota-uz/org-import/modules/orgimport/services"
	"github.com/iota-uz/org-import/pkg/configuration"
)

type validateOptions struct {
	input       inputOptions
	maxDepth    int
	resolve     []string
	autoResolve bool
}

func newValidateCmd() *cobra.Command {
	var opts validateOptions

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check spreadsheets offline (no database)",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := configuration.Use()
			if opts.maxDepth <= 0 {
				opts.maxDepth = conf.Import.MaxDepth
			}
			log := logrus.NewEntry(conf.Logger()).WithField("cmd", "validate")
			defer startTracing(cmd.Context(), conf)()
			return runValidate(cmd.Context(), cmd.OutOrStdout(), opts, log)
		},
	}

	opts.input.bind(cmd)
	cmd.Flags().IntVar(&opts.maxDepth, "max-depth", 0, "Maximum hierarchy depth (default: IMPORT_MAX_DEPTH)")
	cmd.Flags().StringArrayVar(&opts.resolve, "resolve", nil, "Duplicate strategy as sheet:code=strategy (repeatable)")
	cmd.Flags().BoolVar(&opts.autoResolve, "auto-resolve", false, "Apply the recommended strategy to unresolved duplicates")
	return cmd
}

func runValidate(ctx context.Context, w io.Writer, opts validateOptions, log *logrus.Entry) error {
	wb, err := loadWorkbook(opts.input)
	if err != nil {
		return err
	}
	resolutions, err := parseResolutions(opts.resolve)
	if err != nil {
		return err
	}

	pipeline := services.NewPipeline(nil,
		services.WithLogger(log),
		services.WithValidator(services.NewValidator(services.WithMaxDepth(opts.maxDepth))),
	)
	plan, err := pipeline.Prepare(ctx, services.PrepareInput{
		Workbook:    wb,
		Resolutions: resolutions,
		AutoResolve: opts.autoResolve,
	})
	if err != nil {
		if errors.Is(err, services.ErrEmptyWorkbook) {
			return withCode(exitValidation, err)
		}
		return withCode(exitUsage, err)
	}

	status := statusValid
	if !plan.Ready {
		status = statusInvalid
	}
	s := summarize(status, wb, plan)
	if err := writeJSONLine(w, s); err != nil {
		return err
	}
	if !plan.Ready {
		return withCode(exitValidation, fmt.Errorf("validation failed: %d error(s)", len(s.Errors)))
	}
	return nil
}
