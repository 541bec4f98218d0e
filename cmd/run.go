package cmd

import (
	"log"

	"github.com/alG-N/alterGoldenBot-sub008/altergolden"
	"github.com/spf13/cobra"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the AlterGolden bot and ops API",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			ag, err := altergolden.New(cfg)
			if err != nil {
				log.Fatalf("error creating altergolden: %s", err.Error())
			}

			if err = ag.Run(ctx); err != nil {
				log.Fatalf("error running altergolden: %s", err.Error())
			}
		},
	}
)

func init() {
	rootCmd.AddCommand(runCmd)
}
