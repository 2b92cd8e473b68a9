package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/SomBagchi/bioreactor-website/pkg/api"
)

var statusCmd = &cobra.Command{
	Use:   "status [experiment_id]",
	Short: "Get status of an experiment",
	Long:  `Retrieve detailed status information for an experiment, including its current state, exit code, and timestamps.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		experimentID := args[0]

		client := NewHubClient(viper.GetString("url"))

		exp, err := client.GetExperiment(experimentID)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Request failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Request failed: %v\n", err)
			}
			return
		}

		printStatus(cmd, *exp)
	},
}

func printStatus(cmd *cobra.Command, exp api.ExperimentResponse) {
	// Header with state icon
	icon := stateIcon(exp.State)
	cmd.Printf("%s %sExperiment Details%s\n", icon, colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	// ID
	cmd.Printf("%sID:%s          %s\n", colorDim, colorReset, exp.ID)

	// State with icon
	cmd.Printf("%sState:%s       %s\n", colorDim, colorReset, colorizeState(exp.State))

	// Exit Code
	if exp.ExitCode != nil {
		exitCode := *exp.ExitCode
		if exitCode == 0 {
			cmd.Printf("%sExit Code:%s   %s%d%s\n", colorDim, colorReset, colorGreen, exitCode, colorReset)
		} else {
			cmd.Printf("%sExit Code:%s   %s%d%s\n", colorDim, colorReset, colorRed, exitCode, colorReset)
		}
	} else {
		cmd.Printf("%sExit Code:%s   -\n", colorDim, colorReset)
	}

	// Error (if present)
	if exp.Error != nil {
		cmd.Printf("%sError:%s       %s%s%s\n", colorDim, colorReset, colorRed, *exp.Error, colorReset)
	}
	if exp.Warning != nil {
		cmd.Printf("%sWarning:%s     %s%s%s\n", colorDim, colorReset, colorYellow, *exp.Warning, colorReset)
	}

	// Timestamps with relative time
	cmd.Printf("%sSubmitted:%s   %s\n", colorDim, colorReset, formatTimeWithRelative(&exp.CreatedAt))
	cmd.Printf("%sStarted:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(exp.StartedAt))

	// Duration if both times available
	if exp.StartedAt != nil && exp.EndedAt != nil {
		duration := exp.EndedAt.Sub(*exp.StartedAt)
		cmd.Printf("%sFinished:%s    %s %s(%s)%s\n", colorDim, colorReset,
			formatTimeWithRelative(exp.EndedAt),
			colorCyan, formatDuration(duration), colorReset)
	} else {
		cmd.Printf("%sFinished:%s    %s\n", colorDim, colorReset, formatTimeWithRelative(exp.EndedAt))
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func stateIcon(state string) string {
	switch state {
	case "completed", "archived":
		return colorGreen + "✓" + colorReset
	case "failed", "timed_out":
		return colorRed + "✗" + colorReset
	case "cancelled":
		return colorYellow + "✗" + colorReset
	case "running", "provisioning", "validating":
		return colorYellow + "⏳" + colorReset
	case "pending":
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeState(state string) string {
	icon := stateIcon(state)
	switch state {
	case "completed", "archived":
		return icon + " " + colorGreen + state + colorReset
	case "failed", "timed_out", "cancelled":
		return icon + " " + colorRed + state + colorReset
	case "running", "provisioning", "validating":
		return icon + " " + colorYellow + state + colorReset
	case "pending":
		return icon + " " + colorCyan + state + colorReset
	default:
		return state
	}
}

func formatTimeWithRelative(t *time.Time) string {
	if t == nil {
		return "-"
	}
	relative := relativeTime(*t)
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relative, colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	} else {
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
