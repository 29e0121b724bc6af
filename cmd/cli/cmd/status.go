package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"procplane/pkg/api"
)

var statusCmd = &cobra.Command{
	Use:   "status [name]",
	Short: "Show details of a process",
	Long:  `Retrieve details for a named process: its PID, backend, start time and, once it has exited, its exit code.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		proc, err := newClient().GetProcess(args[0])
		if err != nil {
			printError(cmd, err)
			return
		}
		printStatus(cmd, *proc)
	},
}

func printStatus(cmd *cobra.Command, proc api.ProcessResponse) {
	cmd.Printf("%s %sProcess Details%s\n", stateIcon(proc.Exited, proc.ExitCode), colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sName:%s        %s\n", colorDim, colorReset, proc.Name)
	cmd.Printf("%sInstance:%s    %s\n", colorDim, colorReset, proc.InstanceID)
	cmd.Printf("%sPID:%s         %d\n", colorDim, colorReset, proc.PID)
	cmd.Printf("%sRuntime:%s     %s\n", colorDim, colorReset, proc.Runtime)
	cmd.Printf("%sState:%s       %s\n", colorDim, colorReset, colorizeState(proc.Exited, proc.ExitCode))

	if proc.ExitCode != nil {
		exitCode := *proc.ExitCode
		color := colorGreen
		if exitCode != 0 {
			color = colorRed
		}
		cmd.Printf("%sExit Code:%s   %s%d%s", colorDim, colorReset, color, exitCode, colorReset)
		if proc.ExitDescription != "" {
			cmd.Printf(" %s(%s)%s", colorDim, proc.ExitDescription, colorReset)
		}
		cmd.Println()
	} else {
		cmd.Printf("%sExit Code:%s   -\n", colorDim, colorReset)
	}

	cmd.Printf("%sStarted:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(proc.StartedAt))
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

func stateLabel(exited bool, exitCode *int) string {
	switch {
	case !exited:
		return "RUNNING"
	case exitCode != nil && *exitCode == 0:
		return "EXITED"
	default:
		return "FAILED"
	}
}

func stateIcon(exited bool, exitCode *int) string {
	switch stateLabel(exited, exitCode) {
	case "RUNNING":
		return colorYellow + "⏳" + colorReset
	case "EXITED":
		return colorGreen + "✓" + colorReset
	default:
		return colorRed + "✗" + colorReset
	}
}

func colorizeState(exited bool, exitCode *int) string {
	label := stateLabel(exited, exitCode)
	color := colorRed
	switch label {
	case "RUNNING":
		color = colorYellow
	case "EXITED":
		color = colorGreen
	}
	return stateIcon(exited, exitCode) + " " + color + label + colorReset
}

func formatTimeWithRelative(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relativeTime(t), colorReset)
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
