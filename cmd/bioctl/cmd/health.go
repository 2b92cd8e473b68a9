package cmd

import (
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show hub and relay health",
	Long: `Report the hub's health, the device relay channel state, and the number
of experiments per lifecycle state.

A degraded relay means the physical bioreactor is unreachable; running
experiments keep running but their hardware commands fail fast.`,
	Run: func(cmd *cobra.Command, args []string) {
		client := NewHubClient(viper.GetString("url"))

		health, err := client.GetHealth()
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Request failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Request failed: %v\n", err)
			}
			return
		}

		cmd.Printf("%sHub Health%s\n", colorBold, colorReset)
		cmd.Println("──────────────────────────────")
		cmd.Printf("%sStatus:%s  %s\n", colorDim, colorReset, health.Status)
		if health.Relay == "healthy" {
			cmd.Printf("%sRelay:%s   %s%s%s\n", colorDim, colorReset, colorGreen, health.Relay, colorReset)
		} else {
			cmd.Printf("%sRelay:%s   %s%s%s\n", colorDim, colorReset, colorRed, health.Relay, colorReset)
		}

		if len(health.Experiments) == 0 {
			return
		}

		cmd.Printf("\n%sExperiments%s\n", colorBold, colorReset)
		states := make([]string, 0, len(health.Experiments))
		for state := range health.Experiments {
			states = append(states, state)
		}
		sort.Strings(states)
		for _, state := range states {
			cmd.Printf("  %-14s %d\n", state, health.Experiments[state])
		}
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
