package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/example/mdprep/pipeline/domain"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorPurple = "\033[35m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// Out receives all user-facing output.
var Out io.Writer = os.Stdout

// In is read by Confirm.
var In io.Reader = os.Stdin

// NoColor disables ANSI escapes. It is set when NO_COLOR is present.
var NoColor = os.Getenv("NO_COLOR") != ""

func c(code string) string {
	if NoColor {
		return ""
	}
	return code
}

func printf(format string, args ...any) {
	fmt.Fprintf(Out, format, args...)
}

// PrintHeader prints a section header
func PrintHeader(title string) {
	line := strings.Repeat("=", len(title)+4)
	printf("\n%s%s%s\n", c(colorBold+colorBlue), line, c(colorReset))
	printf("%s  %s  %s\n", c(colorBold+colorBlue), title, c(colorReset))
	printf("%s%s%s\n\n", c(colorBold+colorBlue), line, c(colorReset))
}

// PrintStep prints a step in progress
func PrintStep(message string) {
	printf("%s▶%s %s\n", c(colorCyan), c(colorReset), message)
}

// PrintSuccess prints a success message
func PrintSuccess(message string) {
	printf("%s✓%s %s\n", c(colorGreen), c(colorReset), message)
}

// PrintError prints an error message
func PrintError(message string) {
	printf("%s✗%s %s\n", c(colorRed), c(colorReset), message)
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	printf("%s⚠%s %s\n", c(colorYellow), c(colorReset), message)
}

// PrintInfo prints an informational message
func PrintInfo(message string) {
	printf("  %s\n", message)
}

// PrintDetail prints a dimmed, indented block such as engine output.
func PrintDetail(text string) {
	for _, l := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		printf("    %s%s%s\n", c(colorGray), l, c(colorReset))
	}
}

// PrintProgress prints a progress bar
func PrintProgress(current, total int, prefix string) {
	if total == 0 {
		return
	}

	percentage := float64(current) / float64(total) * 100
	barWidth := 40
	filled := int(float64(barWidth) * float64(current) / float64(total))

	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	printf("%s [%s%s%s] %d/%d (%.1f%%)\n",
		prefix, c(colorGreen), bar, c(colorReset), current, total, percentage)
}

// PrintStageStart announces a stage about to run.
func PrintStageStart(s domain.StageSpec, total int) {
	label := fmt.Sprintf("[%d/%d] %s", s.Ordinal, total, s.Name)
	if s.Restraint != nil {
		label += fmt.Sprintf(" %s(bb=%s sc=%s)%s", c(colorGray),
			domain.FormatForceConstant(s.Restraint.BackboneFC),
			domain.FormatForceConstant(s.Restraint.SidechainFC), c(colorReset))
	}
	PrintStep(label)
}

// PrintResult prints the outcome of one stage.
func PrintResult(r *domain.ExecutionResult) {
	if r == nil {
		return
	}
	if r.Success {
		PrintSuccess(fmt.Sprintf("%s finished in %s", r.StageName, FormatDuration(r.Duration)))
		return
	}

	PrintError(fmt.Sprintf("%s failed (stage %d)", r.StageName, r.Ordinal))
	PrintInfo(fmt.Sprintf("Reason:    %s", r.Failure))
	if r.FailedStep != domain.CommandStepNone {
		PrintInfo(fmt.Sprintf("Step:      %s", r.FailedStep))
	}
	PrintInfo(fmt.Sprintf("Exit code: %d", r.ExitCode))
	for _, m := range r.MissingInputs {
		PrintInfo(fmt.Sprintf("No input:  %s", m))
	}
	for _, m := range r.MissingOutputs {
		PrintInfo(fmt.Sprintf("Missing:   %s", m))
	}
	if r.Message != "" {
		PrintDetail(r.Message)
	}
}

// PrintStatus prints a run status with a color matching its outcome.
func PrintStatus(status domain.RunStatus) {
	color := colorYellow
	switch status {
	case domain.RunStatusSucceeded:
		color = colorGreen
	case domain.RunStatusFailed:
		color = colorRed
	}
	printf("\n%sStatus:%s %s%s%s\n", c(colorBold), c(colorReset), c(color), status, c(colorReset))
}

// StateSymbol returns a one-character marker for a stage state.
func StateSymbol(s domain.StageState) string {
	switch s {
	case domain.StageStateSucceeded:
		return c(colorGreen) + "✓" + c(colorReset)
	case domain.StageStateFailed:
		return c(colorRed) + "✗" + c(colorReset)
	case domain.StageStateRunning:
		return c(colorCyan) + "▶" + c(colorReset)
	default:
		return c(colorGray) + "·" + c(colorReset)
	}
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// PrintTable prints a simple table
func PrintTable(headers []string, rows [][]string) {
	if len(rows) == 0 {
		return
	}

	// Calculate column widths
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	for i, h := range headers {
		printf("%s%-*s%s  ", c(colorBold), widths[i], h, c(colorReset))
	}
	printf("\n")

	for _, w := range widths {
		printf("%s  ", strings.Repeat("-", w))
	}
	printf("\n")

	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				printf("%-*s  ", widths[i], cell)
			}
		}
		printf("\n")
	}
}

// Confirm prompts for yes/no confirmation
func Confirm(message string) bool {
	printf("%s%s (y/n): %s", c(colorPurple), message, c(colorReset))
	var response string
	fmt.Fscanln(In, &response)
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes"
}

// FormatDuration formats a duration for display (exported version)
func FormatDuration(d time.Duration) string {
	return formatDuration(d)
}
