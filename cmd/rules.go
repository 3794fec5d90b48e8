package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and manage extraction rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all rules with their counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initStoreOnly(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		rules, err := env.Registry.List(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SOURCE\tTYPE\tFIELDS\tSUCCESS\tFAILURE\tUPDATED")
		for _, r := range rules {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
				r.SourceID, r.SourceType, len(r.Locators),
				r.SuccessCount, r.FailureCount,
				r.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var rulesShowCmd = &cobra.Command{
	Use:   "show <source-id>",
	Short: "Show one rule's locators",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initStoreOnly(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		rule, found, err := env.Registry.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if !found {
			return eris.Errorf("no rule for %s", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rule)
	},
}

var rulesResetCmd = &cobra.Command{
	Use:   "reset <source-id>",
	Short: "Reset a rule's success/failure counters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initStoreOnly(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Registry.ResetCounters(ctx, args[0]); err != nil {
			return err
		}
		zap.L().Info("counters reset", zap.String("source", args[0]))
		return nil
	},
}

var rulesSeedCmd = &cobra.Command{
	Use:   "seed <rules.yaml>",
	Short: "Load rules from a YAML fixture",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initStoreOnly(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Registry.SeedFromFile(ctx, args[0])
		if err != nil {
			return err
		}
		zap.L().Info("rules seeded", zap.Int("count", n), zap.String("file", args[0]))
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesListCmd, rulesShowCmd, rulesResetCmd, rulesSeedCmd)
	rootCmd.AddCommand(rulesCmd)
}
