package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/depannage/qa/scenarios"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <scenario.yaml>",
	Short: "Replay a dispatch scenario in memory and print each outcome",
	Args:  cobra.ExactArgs(1),
	RunE:  runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	sc, err := scenarios.Load(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	rep, err := scenarios.Run(cmd.Context(), sc, scenarios.Options{Dispatch: cfg.Dispatch, Geo: cfg.Geo, Out: out})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "accepts: won=%d lost=%d, rejected steps: %d, journal: %d transitions\n",
		rep.Won, rep.Lost, rep.Errors, rep.Transitions)
	if err := scenarios.Check(rep, sc.Expected); err != nil {
		return fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	return nil
}
