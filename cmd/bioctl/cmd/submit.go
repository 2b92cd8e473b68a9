package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var submitCmd = &cobra.Command{
	Use:   "submit [script.py]",
	Short: "Submit an experiment script",
	Long: `Submit a Python experiment script to the hub.

The script is validated against the hub's import allowlist before a
container is provisioned. A rejected script returns the full list of
validation diagnostics.

Example:
  bioctl submit experiment.py`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		scriptPath := args[0]

		script, err := os.ReadFile(scriptPath)
		if err != nil {
			cmd.Printf("Failed to read script: %v\n", err)
			return
		}
		if len(script) == 0 {
			cmd.Println("Error: script is empty")
			return
		}

		client := NewHubClient(viper.GetString("url"))

		result, err := client.SubmitExperiment(string(script))
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Submit failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Submit failed: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ Experiment submitted!\nExperiment ID: %s\n", result.ExperimentID)
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)
}
