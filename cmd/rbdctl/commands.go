package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-reliability/pkg/model"
	"github.com/dd0wney/cluso-reliability/pkg/pdm"
)

// errInvalid makes check exit non-zero after printing its report.
var errInvalid = errors.New("project has constraint violations")

type modelReport struct {
	Rbd            string  `json:"rbd" yaml:"rbd"`
	Model          string  `json:"model" yaml:"model"`
	Timespan       float64 `json:"timespan" yaml:"timespan"`
	Reliability    float64 `json:"reliability" yaml:"reliability"`
	EquivalentRate float64 `json:"equivalentRate" yaml:"equivalent_rate"`
	Open           bool    `json:"open,omitempty" yaml:"open,omitempty"`
}

func newModelCmd(opts *rootOptions) *cobra.Command {
	var (
		timespan float64
		reserved bool
	)
	cmd := &cobra.Command{
		Use:   "model <rbd>",
		Short: "Build the reliability model of a diagram",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd, func(ctx context.Context, svc *pdm.Service) error {
				q := pdm.SemanticQuery{Semantic: args[0]}
				get := svc.GetRbdModel
				if reserved {
					get = svc.GetRbdReservedModel
				}
				pm, err := get(ctx, opts.caller(), q)
				if err != nil {
					return err
				}
				if timespan <= 0 {
					timespan = svc.Config().MissionTime
				}
				r := pm.Reliability(timespan)
				return render(cmd.OutOrStdout(), opts.output, modelReport{
					Rbd:            args[0],
					Model:          pm.String(),
					Timespan:       timespan,
					Reliability:    r,
					EquivalentRate: model.EquivalentRate(r, timespan),
					Open:           pm.Model.HasOpen(pm.Root),
				})
			})
		},
	}
	cmd.Flags().Float64Var(&timespan, "timespan", 0, "Timespan in hours, the configured mission time when unset")
	cmd.Flags().BoolVar(&reserved, "reserved", false, "Build the diagram as a reserved (parallel) part")
	return cmd
}

type recalcReport struct {
	Product  string         `json:"product" yaml:"product"`
	Timespan float64        `json:"timespan" yaml:"timespan"`
	Visited  []string       `json:"visited" yaml:"visited"`
	Layer    []pdm.NodeView `json:"layer" yaml:"layer"`
}

func newRecalcCmd(opts *rootOptions) *cobra.Command {
	var (
		timespan float64
		dirty    bool
	)
	cmd := &cobra.Command{
		Use:   "recalc <product>",
		Short: "Recalculate a product and show its top layer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd, func(ctx context.Context, svc *pdm.Service) error {
				q := pdm.RecalcQuery{Semantic: args[0], Timespan: timespan}
				recalc := svc.RecalculateProductFull
				if dirty {
					recalc = svc.RecalculateProduct
				}
				report, err := recalc(ctx, opts.caller(), q)
				if err != nil {
					return err
				}
				layer, err := svc.FetchLayerView(ctx, opts.caller(), pdm.SemanticQuery{Semantic: args[0]})
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.output, recalcReport{
					Product:  args[0],
					Timespan: report.Timespan,
					Visited:  report.Visited,
					Layer:    layer,
				})
			})
		},
	}
	cmd.Flags().Float64Var(&timespan, "timespan", 0, "Timespan in hours, the configured mission time when unset")
	cmd.Flags().BoolVar(&dirty, "dirty-only", false, "Recompute only what is stale")
	return cmd
}

type violationReport struct {
	Type       string `json:"type" yaml:"type"`
	Severity   string `json:"severity" yaml:"severity"`
	Semantic   string `json:"semantic" yaml:"semantic"`
	Constraint string `json:"constraint" yaml:"constraint"`
	Message    string `json:"message" yaml:"message"`
}

type checkReport struct {
	Project    string            `json:"project" yaml:"project"`
	Valid      bool              `json:"valid" yaml:"valid"`
	Violations []violationReport `json:"violations,omitempty" yaml:"violations,omitempty"`
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var repair bool
	cmd := &cobra.Command{
		Use:   "check <project>",
		Short: "Check structural constraints of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd, func(ctx context.Context, svc *pdm.Service) error {
				q := pdm.SemanticQuery{Semantic: args[0]}
				if repair {
					if _, err := svc.RepairPositionals(ctx, opts.caller(), q); err != nil {
						return err
					}
				}
				res, err := svc.CheckProject(ctx, opts.caller(), q)
				if err != nil {
					return err
				}
				report := checkReport{Project: args[0], Valid: res.Valid}
				for _, v := range res.Violations {
					report.Violations = append(report.Violations, violationReport{
						Type:       v.Type.String(),
						Severity:   v.Severity.String(),
						Semantic:   v.Semantic,
						Constraint: v.Constraint,
						Message:    v.Message,
					})
				}
				if err := render(cmd.OutOrStdout(), opts.output, report); err != nil {
					return err
				}
				if !res.Valid {
					return errInvalid
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "Renumber positionals before checking")
	return cmd
}

func newLayerCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "layer <semantic>",
		Short: "Show the children of a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd, func(ctx context.Context, svc *pdm.Service) error {
				layer, err := svc.FetchLayerView(ctx, opts.caller(), pdm.SemanticQuery{Semantic: args[0]})
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.output, layer)
			})
		},
	}
}
