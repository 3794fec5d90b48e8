package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var processFile string

var processCmd = &cobra.Command{
	Use:   "process <source-id> [url]",
	Short: "Process one article document through the extraction pipeline",
	Long:  "Fetches the document (or reads it from --file), extracts with the source's rule, and runs repair or discovery when the quality gate fails.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sourceID := args[0]

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		var document string
		switch {
		case processFile != "":
			raw, err := os.ReadFile(processFile)
			if err != nil {
				return eris.Wrapf(err, "read %s", processFile)
			}
			document = string(raw)
		case len(args) == 2:
			document, err = env.Fetcher.Fetch(ctx, sourceID, args[1])
			if err != nil {
				return err
			}
		default:
			return eris.New("either a url argument or --file is required")
		}

		result, err := env.Orchestrator.Process(ctx, sourceID, document)
		if err != nil {
			return err
		}

		zap.L().Info("processing complete",
			zap.String("source", sourceID),
			zap.String("outcome", string(result.Outcome)),
			zap.Int("score", result.Score),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	processCmd.Flags().StringVar(&processFile, "file", "", "read the document from a local file instead of fetching")
	rootCmd.AddCommand(processCmd)
}
