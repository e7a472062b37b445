package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-reliability/pkg/config"
	"github.com/dd0wney/cluso-reliability/pkg/fixture"
	"github.com/dd0wney/cluso-reliability/pkg/logging"
	"github.com/dd0wney/cluso-reliability/pkg/metrics"
	"github.com/dd0wney/cluso-reliability/pkg/pdm"
)

// Output formats.
const (
	outputText = "text"
	outputYAML = "yaml"
	outputJSON = "json"
)

type rootOptions struct {
	configPath  string
	fixturePath string
	output      string
	logLevel    string
	actor       string
	journal     bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "rbdctl",
		Short: "Query reliability block diagrams of a product structure",
		Long: `rbdctl loads a product structure from a YAML fixture into an engine
configured from --config and the RBD_* environment, then builds models,
recalculates products or checks structural constraints.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.output {
			case outputText, outputYAML, outputJSON:
				return nil
			default:
				return fmt.Errorf("unknown output format %q", opts.output)
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Config file path")
	flags.StringVarP(&opts.fixturePath, "fixture", "f", "", "Product structure fixture (YAML)")
	flags.StringVarP(&opts.output, "output", "o", outputText, "Output format: text, yaml or json")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level, overrides the config")
	flags.StringVar(&opts.actor, "actor", "rbdctl", "Actor recorded on edits")
	flags.BoolVar(&opts.journal, "journal", false, "Print the events the command produced to stderr")
	_ = root.MarkPersistentFlagRequired("fixture")

	root.AddCommand(newModelCmd(opts))
	root.AddCommand(newRecalcCmd(opts))
	root.AddCommand(newCheckCmd(opts))
	root.AddCommand(newLayerCmd(opts))
	return root
}

func (o *rootOptions) caller() pdm.Caller {
	return pdm.Caller{Actor: o.actor}
}

// open builds an engine from the configuration and seeds it with the
// fixture. The caller closes the service.
func (o *rootOptions) open(cmd *cobra.Command) (*pdm.Service, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}
	logger := logging.NewJSONLogger(cmd.ErrOrStderr(), logging.ParseLevel(level))

	f, err := fixture.LoadFile(o.fixturePath)
	if err != nil {
		return nil, err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc, err := pdm.Open(ctx, *cfg, logger, metrics.NewRegistry())
	if err != nil {
		return nil, err
	}
	if err := f.Apply(ctx, svc.Store()); err != nil {
		svc.Close()
		return nil, fmt.Errorf("seed fixture: %w", err)
	}
	logger.Debug("fixture loaded",
		logging.String("fixture", o.fixturePath),
		logging.String("project", f.Project))
	return svc, nil
}

// withService opens the engine, runs fn and closes it again.
func (o *rootOptions) withService(cmd *cobra.Command, fn func(context.Context, *pdm.Service) error) error {
	svc, err := o.open(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	err = fn(ctx, svc)
	if o.journal {
		for _, e := range svc.Journal().Entries(nil) {
			fmt.Fprintln(cmd.ErrOrStderr(), e.String())
		}
	}
	return err
}
