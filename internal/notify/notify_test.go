package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exportSummary() *JobSummary {
	return &JobSummary{
		Operation:      "export",
		DatabaseName:   "Orders",
		Location:       "https://contosobackups.blob.core.windows.net/backups/Orders/Orders-638396640000000000.bacpac",
		JobID:          "4f2e1c9a-2b7d-4e35-9a1f-0c6d8e7b5a21",
		State:          "Completed",
		Polls:          12,
		Duration:       36 * time.Second,
		Success:        true,
		DeletedBackups: 2,
	}
}

// Tests for formatBytes
func TestFormatBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		bytes    int64
		expected string
	}{
		{"zero bytes", 0, "0 B"},
		{"small bytes", 512, "512 B"},
		{"exactly 1KB", 1024, "1.0 KB"},
		{"KB range", 1536, "1.5 KB"},
		{"exactly 1MB", 1024 * 1024, "1.0 MB"},
		{"MB range", 5 * 1024 * 1024, "5.0 MB"},
		{"exactly 1GB", 1024 * 1024 * 1024, "1.0 GB"},
		{"GB range", int64(2.5 * 1024 * 1024 * 1024), "2.5 GB"},
		{"large GB", 100 * int64(1024*1024*1024), "100.0 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			result := formatBytes(tt.bytes)
			assert.Equal(t, tt.expected, result)
		})
	}
}

// Tests for buildSummaryMarkdown
func TestBuildSummaryMarkdown_ExportSuccess(t *testing.T) {
	t.Parallel()

	markdown := buildSummaryMarkdown(exportSummary())

	assert.Contains(t, markdown, "## Database Export Summary")
	assert.Contains(t, markdown, ":white_check_mark: Success")
	assert.Contains(t, markdown, "| Database Name | Orders |")
	assert.Contains(t, markdown, "| State | Completed |")
	assert.Contains(t, markdown, "| Job ID | `4f2e1c9a-2b7d-4e35-9a1f-0c6d8e7b5a21` |")
	assert.Contains(t, markdown, "| Location | `https://contosobackups.blob.core.windows.net/backups/Orders/Orders-638396640000000000.bacpac` |")
	assert.Contains(t, markdown, "| Status Checks | 12 |")
	assert.Contains(t, markdown, "| Duration | 36s |")
	assert.Contains(t, markdown, "| Old Backups Deleted | 2 |")
	assert.NotContains(t, markdown, "Backup Size")
}

func TestBuildSummaryMarkdown_BacpacSuccess(t *testing.T) {
	t.Parallel()

	summary := &JobSummary{
		Operation:    "bacpac",
		DatabaseName: "Orders",
		Location:     "/var/backups/Orders/Orders-20240101-000000.bacpac",
		OffsiteKey:   "backups/Orders/Orders-20240101-000000.bacpac",
		BackupSize:   10 * 1024 * 1024,
		Duration:     2 * time.Minute,
		Success:      true,
	}

	markdown := buildSummaryMarkdown(summary)

	assert.Contains(t, markdown, "## Database Backup Summary")
	assert.Contains(t, markdown, "| Backup Size | 10.0 MB |")
	assert.Contains(t, markdown, "| Off-site Copy | `backups/Orders/Orders-20240101-000000.bacpac` |")
	assert.NotContains(t, markdown, "Job ID")
	assert.NotContains(t, markdown, "Status Checks")
	assert.NotContains(t, markdown, "Old Backups Deleted")
}

func TestBuildSummaryMarkdown_Failure(t *testing.T) {
	t.Parallel()

	summary := &JobSummary{
		Operation:    "import",
		DatabaseName: "Orders_restored",
		State:        "Failed",
		Success:      false,
		Error:        errors.New("database already exists"),
	}

	markdown := buildSummaryMarkdown(summary)

	assert.Contains(t, markdown, "## Database Import Summary")
	assert.Contains(t, markdown, ":x: Failed")
	assert.Contains(t, markdown, "| State | Failed |")
	assert.Contains(t, markdown, "| Error | database already exists |")
	assert.NotContains(t, markdown, "Location")
}

func TestBuildSummaryMarkdown_FailureWithoutError(t *testing.T) {
	t.Parallel()

	markdown := buildSummaryMarkdown(&JobSummary{Operation: "export", DatabaseName: "Orders"})

	assert.Contains(t, markdown, ":x: Failed")
	assert.NotContains(t, markdown, "| Error |")
}

// Tests for WriteGitHubSummary
func TestWriteGitHubSummary_NotInGitHubActions(t *testing.T) {
	t.Setenv("GITHUB_STEP_SUMMARY", "")

	err := WriteGitHubSummary(exportSummary())
	assert.NoError(t, err)
}

func TestWriteGitHubSummary_AppendsToExisting(t *testing.T) {
	tempDir := t.TempDir()
	summaryFile := filepath.Join(tempDir, "summary.md")

	err := os.WriteFile(summaryFile, []byte("# Existing Content\n"), 0644)
	require.NoError(t, err)

	t.Setenv("GITHUB_STEP_SUMMARY", summaryFile)

	require.NoError(t, WriteGitHubSummary(exportSummary()))

	second := exportSummary()
	second.DatabaseName = "Customers"
	require.NoError(t, WriteGitHubSummary(second))

	content, err := os.ReadFile(summaryFile)
	require.NoError(t, err)

	assert.Contains(t, string(content), "# Existing Content")
	assert.Contains(t, string(content), "| Database Name | Orders |")
	assert.Contains(t, string(content), "| Database Name | Customers |")
}

func TestWriteGitHubSummary_InvalidPath(t *testing.T) {
	t.Setenv("GITHUB_STEP_SUMMARY", "/nonexistent/path/that/doesnt/exist/summary.md")

	err := WriteGitHubSummary(exportSummary())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open summary file")
}

// Tests for SetGitHubOutput
func TestSetGitHubOutput_NotInGitHubActions(t *testing.T) {
	t.Setenv("GITHUB_OUTPUT", "")

	err := SetGitHubOutput("test_key", "test_value")
	assert.NoError(t, err)
}

func TestSetGitHubOutput_InGitHubActions(t *testing.T) {
	tempDir := t.TempDir()
	outputFile := filepath.Join(tempDir, "output.txt")

	t.Setenv("GITHUB_OUTPUT", outputFile)

	require.NoError(t, SetGitHubOutput("failed_databases", "0"))
	require.NoError(t, SetGitHubOutput("blob_uri", "https://x/backups/Orders.bacpac"))

	content, err := os.ReadFile(outputFile)
	require.NoError(t, err)

	assert.Equal(t, "failed_databases=0\nblob_uri=https://x/backups/Orders.bacpac\n", string(content))
}

func TestSetGitHubOutput_InvalidPath(t *testing.T) {
	t.Setenv("GITHUB_OUTPUT", "/nonexistent/path/output.txt")

	err := SetGitHubOutput("key", "value")
	assert.Error(t, err)
}

// Tests for webhook payloads
func TestNewWebhookNotifier(t *testing.T) {
	t.Parallel()

	notifier := NewWebhookNotifier("https://example.com/webhook")

	assert.Equal(t, "https://example.com/webhook", notifier.url)
	assert.Equal(t, 30*time.Second, notifier.client.Timeout)
	_, err := uuid.Parse(notifier.InvocationID())
	assert.NoError(t, err)
	assert.NotEqual(t, notifier.InvocationID(), NewWebhookNotifier("").InvocationID())
}

func TestBuildWebhookPayload_Success(t *testing.T) {
	t.Setenv("GITHUB_REPOSITORY", "")
	t.Setenv("GITHUB_RUN_ID", "")

	payload := buildWebhookPayload(exportSummary())

	assert.Equal(t, "success", payload.Status)
	assert.Equal(t, "export", payload.Operation)
	assert.Equal(t, "Orders", payload.DatabaseName)
	assert.Equal(t, "Completed", payload.State)
	assert.Equal(t, "4f2e1c9a-2b7d-4e35-9a1f-0c6d8e7b5a21", payload.JobID)
	assert.Contains(t, payload.Location, "Orders-638396640000000000.bacpac")
	assert.Equal(t, 12, payload.Polls)
	assert.Equal(t, 2, payload.DeletedBackups)
	assert.Equal(t, "36s", payload.Duration)
	assert.Empty(t, payload.Error)
	assert.Empty(t, payload.Repository)
	assert.WithinDuration(t, time.Now().UTC(), payload.Timestamp, 5*time.Second)
}

func TestBuildWebhookPayload_Failure(t *testing.T) {
	t.Parallel()

	payload := buildWebhookPayload(&JobSummary{
		Operation:    "export",
		DatabaseName: "Orders",
		Location:     "ignored",
		State:        "TimedOut",
		Error:        errors.New("job timed out"),
	})

	assert.Equal(t, "failure", payload.Status)
	assert.Equal(t, "TimedOut", payload.State)
	assert.Equal(t, "job timed out", payload.Error)
	assert.Empty(t, payload.Location)
}

func TestBuildWebhookPayload_WithGitHubContext(t *testing.T) {
	t.Setenv("GITHUB_REPOSITORY", "owner/repo")
	t.Setenv("GITHUB_RUN_ID", "12345")
	t.Setenv("GITHUB_SERVER_URL", "https://github.com")

	payload := buildWebhookPayload(exportSummary())

	assert.Equal(t, "owner/repo", payload.Repository)
	assert.Equal(t, "12345", payload.RunID)
	assert.Equal(t, "https://github.com/owner/repo/actions/runs/12345", payload.RunURL)
}

func TestWebhookPayload_JSONOmitempty(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(&WebhookPayload{Status: "failure", Operation: "import", DatabaseName: "Orders", Duration: "0s"})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "failure", decoded["status"])
	assert.NotContains(t, decoded, "location")
	assert.NotContains(t, decoded, "job_id")
	assert.NotContains(t, decoded, "backup_size")
	assert.Contains(t, decoded, "invocation_id")
}

// Tests for WebhookNotifier.Notify
func TestWebhookNotifier_Notify_EmptyURL(t *testing.T) {
	t.Parallel()

	notifier := NewWebhookNotifier("")
	assert.NoError(t, notifier.Notify(context.Background(), exportSummary()))
}

func TestWebhookNotifier_Notify_Success(t *testing.T) {
	t.Parallel()

	received := make(chan *WebhookPayload, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "sql-db-backups/1.0", r.Header.Get("User-Agent"))

		var payload WebhookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		received <- &payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL)
	require.NoError(t, notifier.Notify(context.Background(), exportSummary()))

	failed := exportSummary()
	failed.Success = false
	failed.Error = errors.New("disk full")
	require.NoError(t, notifier.Notify(context.Background(), failed))

	first, second := <-received, <-received
	assert.Equal(t, "success", first.Status)
	assert.Equal(t, "failure", second.Status)
	assert.Equal(t, "disk full", second.Error)
	assert.Equal(t, notifier.InvocationID(), first.InvocationID)
	assert.Equal(t, first.InvocationID, second.InvocationID)
}

func TestWebhookNotifier_Notify_NonSuccessStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		statusCode int
	}{
		{"bad request", http.StatusBadRequest},
		{"unauthorized", http.StatusUnauthorized},
		{"server error", http.StatusInternalServerError},
		{"redirect", http.StatusMultipleChoices},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			err := NewWebhookNotifier(server.URL).Notify(context.Background(), exportSummary())
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "non-success status")
		})
	}
}

func TestWebhookNotifier_Notify_NetworkError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	err := NewWebhookNotifier(url).Notify(context.Background(), exportSummary())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to send webhook")
}

func TestWebhookNotifier_Notify_ContextCancellation(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewWebhookNotifier(server.URL).Notify(ctx, exportSummary())
	assert.Error(t, err)
}
