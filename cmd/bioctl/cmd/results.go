package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var resultsCmd = &cobra.Command{
	Use:   "results [experiment_id]",
	Short: "List or download experiment results",
	Long: `List the files captured in a finalized experiment archive, or download
the whole archive as a zip bundle.

Examples:
  bioctl results 6f1c...            List archived files
  bioctl results 6f1c... --download results.zip`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		experimentID := args[0]
		dest, _ := cmd.Flags().GetString("download")

		client := NewHubClient(viper.GetString("url"))

		if dest != "" {
			if err := client.DownloadBundle(experimentID, dest); err != nil {
				if apiErr, ok := err.(*APIError); ok {
					cmd.Printf("Download failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
				} else {
					cmd.Printf("Download failed: %v\n", err)
				}
				return
			}
			cmd.Printf("✓ Bundle saved to %s\n", dest)
			return
		}

		results, err := client.GetResults(experimentID)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Request failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Request failed: %v\n", err)
			}
			return
		}

		cmd.Printf("%sArchive for %s%s\n", colorBold, results.ExperimentID, colorReset)
		cmd.Println("──────────────────────────────")
		if len(results.Files) == 0 {
			cmd.Println("(empty)")
			return
		}
		for _, f := range results.Files {
			cmd.Printf("  %s\n", f)
		}
	},
}

func init() {
	resultsCmd.Flags().StringP("download", "d", "", "Download the zip bundle to this path instead of listing files")
	rootCmd.AddCommand(resultsCmd)
}
