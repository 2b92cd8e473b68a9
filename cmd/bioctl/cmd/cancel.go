package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel [experiment_id]",
	Short: "Cancel a running experiment",
	Long: `Request cancellation of a live experiment.

The hub tears the experiment container down and the call returns once
the experiment has reached its terminal state.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		experimentID := args[0]

		client := NewHubClient(viper.GetString("url"))

		exp, err := client.CancelExperiment(experimentID)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Cancel failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Cancel failed: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ Experiment %s is now %s\n", exp.ID, exp.State)
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}
