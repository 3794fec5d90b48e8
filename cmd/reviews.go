package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/rulesmith/internal/model"
)

var reviewsLimit int

var reviewsCmd = &cobra.Command{
	Use:   "reviews",
	Short: "Work the escalation queue",
}

var reviewsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List decisions awaiting review",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initStoreOnly(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		recs, err := env.Ledger.PendingReviews(ctx, reviewsLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSOURCE\tENGINE\tRETRIES\tSCORE\tCREATED")
		for _, r := range recs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.2f\t%s\n",
				r.ID, r.SourceID, r.Engine, r.RetryCount,
				r.Consensus.Score, r.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var reviewsShowCmd = &cobra.Command{
	Use:   "show <decision-id>",
	Short: "Show a decision record with its proposals",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initStoreOnly(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		rec, err := env.Ledger.Get(ctx, args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

var reviewsApproveCmd = &cobra.Command{
	Use:   "approve <decision-id> <locators.yaml>",
	Short: "Approve a review by installing locators as a manual rule",
	Long:  "Reads a field→pattern YAML map (typically the escalated proposal's locators, hand-edited) and installs it as the rule for the record's source.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initStoreOnly(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		rec, err := env.Ledger.Get(ctx, args[0])
		if err != nil {
			return err
		}

		raw, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		var locators map[model.Field]string
		if err := yaml.Unmarshal(raw, &locators); err != nil {
			return err
		}

		rule := &model.ExtractionRule{
			SourceID:   rec.SourceID,
			Locators:   locators,
			SourceType: model.SourceTypeManual,
			UpdatedAt:  time.Now().UTC(),
		}
		if err := approveRule(ctx, env.Registry, rule); err != nil {
			return err
		}

		zap.L().Info("review approved",
			zap.String("decision", rec.ID),
			zap.String("source", rec.SourceID),
		)
		return nil
	},
}

func init() {
	reviewsListCmd.Flags().IntVar(&reviewsLimit, "limit", 50, "max records to list")
	reviewsCmd.AddCommand(reviewsListCmd, reviewsShowCmd, reviewsApproveCmd)
	rootCmd.AddCommand(reviewsCmd)
}
