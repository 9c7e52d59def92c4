package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
)

type WebhookPayload struct {
	Status         string    `json:"status"`
	Operation      string    `json:"operation"`
	DatabaseName   string    `json:"database_name"`
	State          string    `json:"state,omitempty"`
	JobID          string    `json:"job_id,omitempty"`
	Location       string    `json:"location,omitempty"`
	OffsiteKey     string    `json:"offsite_key,omitempty"`
	BackupSize     int64     `json:"backup_size,omitempty"`
	Polls          int       `json:"polls,omitempty"`
	DeletedBackups int       `json:"deleted_backups,omitempty"`
	Duration       string    `json:"duration"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	InvocationID   string    `json:"invocation_id"`
	Repository     string    `json:"repository,omitempty"`
	RunID          string    `json:"run_id,omitempty"`
	RunURL         string    `json:"run_url,omitempty"`
}

// WebhookNotifier posts one JSON payload per database. Every payload sent by
// the same notifier carries the same invocation id.
type WebhookNotifier struct {
	url          string
	client       *http.Client
	invocationID string
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		invocationID: uuid.NewString(),
	}
}

func (n *WebhookNotifier) InvocationID() string {
	return n.invocationID
}

func (n *WebhookNotifier) Notify(ctx context.Context, summary *JobSummary) error {
	if n.url == "" {
		return nil
	}

	payload := buildWebhookPayload(summary)
	payload.InvocationID = n.invocationID

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "sql-db-backups/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-success status: %d", resp.StatusCode)
	}

	return nil
}

func buildWebhookPayload(summary *JobSummary) *WebhookPayload {
	payload := &WebhookPayload{
		Operation:    summary.Operation,
		DatabaseName: summary.DatabaseName,
		State:        summary.State,
		JobID:        summary.JobID,
		Polls:        summary.Polls,
		Duration:     summary.Duration.String(),
		Timestamp:    time.Now().UTC(),
	}

	if summary.Success {
		payload.Status = "success"
		payload.Location = summary.Location
		payload.OffsiteKey = summary.OffsiteKey
		payload.BackupSize = summary.BackupSize
		payload.DeletedBackups = summary.DeletedBackups
	} else {
		payload.Status = "failure"
		if summary.Error != nil {
			payload.Error = summary.Error.Error()
		}
	}

	// Add GitHub context if available
	if repo := os.Getenv("GITHUB_REPOSITORY"); repo != "" {
		payload.Repository = repo
	}
	if runID := os.Getenv("GITHUB_RUN_ID"); runID != "" {
		payload.RunID = runID
		if serverURL := os.Getenv("GITHUB_SERVER_URL"); serverURL != "" {
			if repo := os.Getenv("GITHUB_REPOSITORY"); repo != "" {
				payload.RunURL = fmt.Sprintf("%s/%s/actions/runs/%s", serverURL, repo, runID)
			}
		}
	}

	return payload
}
