// Command phasectl checks and repairs a phase plan file offline, with the
// same engine the planner API uses.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"phaseplanner/internal/schedule"
)

const version = "0.1.0"

// errViolationsFound makes evaluate exit non-zero under --fail.
var errViolationsFound = errors.New("plan has dependency violations")

type options struct {
	file    string
	output  string
	verbose bool
	log     *zap.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errViolationsFound) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{log: zap.NewNop()}

	cmd := &cobra.Command{
		Use:   "phasectl",
		Short: "Check and repair phase plans",
		Long: `phasectl evaluates the dependencies of a YAML phase plan, suggests
dates for a single phase and computes the cascade that clears every
violation.

Dates are calendar days (YYYY-MM-DD). Supported dependency types:
FS (finish_to_start), SS, FF and SF. Finish-to-start always keeps at least
one day between the phases.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.output {
			case "yaml", "json":
			default:
				return fmt.Errorf("invalid output format %q (must be yaml or json)", opts.output)
			}
			if opts.verbose {
				l, err := zap.NewDevelopment()
				if err != nil {
					return err
				}
				opts.log = l
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.file, "file", "f", "plan.yaml", "Path to the plan file")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "yaml", "Output format: yaml, json")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log to stderr")

	cmd.AddCommand(
		newEvaluateCmd(opts),
		newCorrectCmd(opts),
		newFixCmd(opts),
		newOrderCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "phasectl version %s\n", version)
			},
		},
	)
	return cmd
}

func (o *options) load() (*Plan, error) {
	p, err := loadPlan(o.file)
	if err != nil {
		return nil, err
	}
	o.log.Debug("Plan loaded",
		zap.String("file", o.file),
		zap.Int("phase_count", len(p.Phases)),
		zap.Int("dependency_count", len(p.Dependencies)),
	)
	return p, nil
}

func (o *options) print(w io.Writer, v any) error {
	if o.output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

type evaluateOutput struct {
	ViolationCount int                   `yaml:"violation_count" json:"violation_count"`
	Violations     schedule.ViolationMap `yaml:"violations" json:"violations"`
}

func newEvaluateCmd(opts *options) *cobra.Command {
	var fail bool
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Print the violation map of the plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.load()
			if err != nil {
				return err
			}
			m := schedule.BuildViolationMap(p.Phases, p.engineDependencies())
			if err := opts.print(cmd.OutOrStdout(), evaluateOutput{ViolationCount: m.Count(), Violations: m}); err != nil {
				return err
			}
			if fail && m.Count() > 0 {
				return errViolationsFound
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fail, "fail", false, "Exit with status 3 when violations exist")
	return cmd
}

type correctOutput struct {
	PhaseID    int                  `yaml:"phase_id" json:"phase_id"`
	Proposed   schedule.Span        `yaml:"proposed" json:"proposed"`
	Violations []schedule.Violation `yaml:"violations" json:"violations"`
	Suggestion schedule.Correction  `yaml:"suggestion" json:"suggestion"`
}

func newCorrectCmd(opts *options) *cobra.Command {
	var (
		phaseID    int
		start, end string
	)
	cmd := &cobra.Command{
		Use:   "correct --phase ID [--start DATE] [--end DATE]",
		Short: "Check proposed dates for one phase and suggest valid ones",
		Long: `Evaluates the proposed dates of one phase against its dependencies and
prints the nearest dates that satisfy the incoming ones. Omitted dates keep
the value from the plan.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.load()
			if err != nil {
				return err
			}
			ph, ok := p.phase(phaseID)
			if !ok {
				return fmt.Errorf("phase %d not found in %s", phaseID, opts.file)
			}

			span := ph.Span()
			if start != "" {
				if span.Start, err = schedule.ParseDay(start); err != nil {
					return err
				}
			}
			if end != "" {
				if span.End, err = schedule.ParseDay(end); err != nil {
					return err
				}
			}

			deps := p.engineDependencies()
			out := correctOutput{
				PhaseID:    ph.ID,
				Proposed:   span,
				Violations: schedule.Evaluate(ph, span.Start, span.End, p.Phases, deps),
				Suggestion: schedule.Correct(ph, span.Start, span.End, p.Phases, deps),
			}
			if out.Violations == nil {
				out.Violations = []schedule.Violation{}
			}
			return opts.print(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().IntVar(&phaseID, "phase", 0, "Phase id (required)")
	cmd.Flags().StringVar(&start, "start", "", "Proposed start date")
	cmd.Flags().StringVar(&end, "end", "", "Proposed end date")
	_ = cmd.MarkFlagRequired("phase")
	return cmd
}

type fixOutput struct {
	Updates   []schedule.PhaseUpdate `yaml:"updates" json:"updates"`
	Remaining schedule.ViolationMap  `yaml:"remaining" json:"remaining"`
	Plan      *Plan                  `yaml:"plan,omitempty" json:"plan,omitempty"`
}

func newFixCmd(opts *options) *cobra.Command {
	var withPlan bool
	cmd := &cobra.Command{
		Use:   "fix",
		Short: "Compute the date changes that clear every violation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.load()
			if err != nil {
				return err
			}
			deps := p.engineDependencies()

			updates, err := schedule.ScheduleFix(p.Phases, deps, schedule.BuildViolationMap(p.Phases, deps))
			if err != nil {
				var cycle *schedule.CycleError
				if errors.As(err, &cycle) {
					opts.log.Debug("Cycle detected", zap.Ints("phase_ids", cycle.PhaseIDs))
				}
				return err
			}
			if updates == nil {
				updates = []schedule.PhaseUpdate{}
			}

			fixed := p.apply(updates)
			out := fixOutput{
				Updates:   updates,
				Remaining: schedule.BuildViolationMap(fixed, deps),
			}
			if withPlan {
				out.Plan = &Plan{Phases: fixed, Dependencies: p.Dependencies}
			}
			opts.log.Debug("Fix computed",
				zap.Int("update_count", len(updates)),
				zap.Int("violation_count", out.Remaining.Count()),
			)
			return opts.print(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().BoolVar(&withPlan, "print-plan", false, "Also print the corrected plan")
	return cmd
}

func newOrderCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "order",
		Short: "Print phase ids in dependency order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.load()
			if err != nil {
				return err
			}
			order, err := schedule.TopologicalOrder(p.Phases, p.engineDependencies())
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), map[string][]int{"order": order})
		},
	}
}
