package dac

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jorgepascosoto/sql-db-backups/internal/errors"
)

// maxErrorBody caps how much of a failed response body is kept in errors.
const maxErrorBody = 4 << 10

// JobClient is the wire side of a job: submitting it and reading its status.
type JobClient interface {
	Submit(ctx context.Context, op Operation, payload any) (string, error)
	Status(ctx context.Context, jobID string, target ConnectionTarget) (*StatusInfo, error)
}

// Client talks XML over HTTP to the import/export service rooted at endpoint.
type Client struct {
	endpoint string
	client   *http.Client
}

// NewClient returns a client for endpoint. A zero timeout leaves requests
// bounded only by their context.
func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Submit posts payload to /Export or /Import and returns the job identifier
// carried in the first guid element of the response.
func (c *Client) Submit(ctx context.Context, op Operation, payload any) (string, error) {
	body, err := xml.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s input: %w", strings.ToLower(string(op)), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/"+string(op), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("User-Agent", "sql-db-backups/1.0")

	resp, err := c.do(req, strings.ToLower(string(op)))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	return readJobID(resp.Body)
}

// Status fetches the status list of jobID and returns its first entry. The
// service authenticates every status call with the server credentials.
func (c *Client) Status(ctx context.Context, jobID string, target ConnectionTarget) (*StatusInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.statusURL(jobID, target, false), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("User-Agent", "sql-db-backups/1.0")

	resp, err := c.do(req, "status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return readStatus(resp.Body)
}

// RedactedStatusURL is the status URL with the password masked, for logs.
func (c *Client) RedactedStatusURL(jobID string, target ConnectionTarget) string {
	return c.statusURL(jobID, target, true)
}

func (c *Client) statusURL(jobID string, target ConnectionTarget, redact bool) string {
	password := target.Password
	if redact {
		password = "xxxxx"
	}
	return fmt.Sprintf("%s/Status?servername=%s&username=%s&password=%s&reqId=%s",
		c.endpoint,
		url.QueryEscape(target.ServerName),
		url.QueryEscape(target.UserName),
		url.QueryEscape(password),
		url.QueryEscape(jobID),
	)
}

func (c *Client) do(req *http.Request, op string) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.NewTransportError(op, 0, "", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var cause error
		if msg := strings.TrimSpace(string(snippet)); msg != "" {
			cause = fmt.Errorf("%s", msg)
		}
		return nil, errors.NewTransportError(op, resp.StatusCode, resp.Status, cause)
	}

	return resp, nil
}

func readJobID(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return "", errors.ErrMissingJobID
		}
		if err != nil {
			return "", fmt.Errorf("failed to read submit response: %w", err)
		}

		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "guid" {
			continue
		}

		var id string
		if err := dec.DecodeElement(&id, &se); err != nil {
			return "", fmt.Errorf("failed to read guid element: %w", err)
		}
		id = strings.TrimSpace(id)
		if id == "" {
			return "", errors.ErrMissingJobID
		}
		return id, nil
	}
}

func readStatus(r io.Reader) (*StatusInfo, error) {
	var list statusList
	if err := xml.NewDecoder(r).Decode(&list); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedStatus, err)
	}
	if len(list.Items) == 0 {
		return nil, errors.ErrEmptyStatus
	}
	return &list.Items[0], nil
}
