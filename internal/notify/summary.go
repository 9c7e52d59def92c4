package notify

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// JobSummary is the result of one database in a run.
type JobSummary struct {
	Operation    string
	DatabaseName string
	// Location is the blob URI (export), the target database (import) or
	// the local file (bacpac).
	Location       string
	OffsiteKey     string
	JobID          string
	State          string
	Polls          int
	BackupSize     int64
	Duration       time.Duration
	Success        bool
	Error          error
	DeletedBackups int
}

func WriteGitHubSummary(summary *JobSummary) error {
	summaryFile := os.Getenv("GITHUB_STEP_SUMMARY")
	if summaryFile == "" {
		return nil // Not running in GitHub Actions
	}

	content := buildSummaryMarkdown(summary)

	f, err := os.OpenFile(summaryFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open summary file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}

	return nil
}

func buildSummaryMarkdown(summary *JobSummary) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("## Database %s Summary\n\n", operationTitle(summary.Operation)))

	if summary.Success {
		sb.WriteString("**Status:** :white_check_mark: Success\n\n")
	} else {
		sb.WriteString("**Status:** :x: Failed\n\n")
	}

	sb.WriteString("| Property | Value |\n")
	sb.WriteString("|----------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Database Name | %s |\n", summary.DatabaseName))
	if summary.State != "" {
		sb.WriteString(fmt.Sprintf("| State | %s |\n", summary.State))
	}
	if summary.JobID != "" {
		sb.WriteString(fmt.Sprintf("| Job ID | `%s` |\n", summary.JobID))
	}

	if summary.Success {
		sb.WriteString(fmt.Sprintf("| Location | `%s` |\n", summary.Location))
		if summary.OffsiteKey != "" {
			sb.WriteString(fmt.Sprintf("| Off-site Copy | `%s` |\n", summary.OffsiteKey))
		}
		if summary.BackupSize > 0 {
			sb.WriteString(fmt.Sprintf("| Backup Size | %s |\n", formatBytes(summary.BackupSize)))
		}
		if summary.Polls > 0 {
			sb.WriteString(fmt.Sprintf("| Status Checks | %d |\n", summary.Polls))
		}
		sb.WriteString(fmt.Sprintf("| Duration | %s |\n", summary.Duration.Round(time.Millisecond)))

		if summary.DeletedBackups > 0 {
			sb.WriteString(fmt.Sprintf("| Old Backups Deleted | %d |\n", summary.DeletedBackups))
		}
	} else if summary.Error != nil {
		sb.WriteString(fmt.Sprintf("| Error | %s |\n", summary.Error.Error()))
	}

	sb.WriteString("\n")

	return sb.String()
}

func operationTitle(op string) string {
	switch op {
	case "export":
		return "Export"
	case "import":
		return "Import"
	case "cleanup":
		return "Cleanup"
	default:
		return "Backup"
	}
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func SetGitHubOutput(name, value string) error {
	outputFile := os.Getenv("GITHUB_OUTPUT")
	if outputFile == "" {
		return nil
	}

	f, err := os.OpenFile(outputFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open output file: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s=%s\n", name, value); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	return nil
}
