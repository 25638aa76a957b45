// Package forward delivers decision events to the downstream workflow API.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/nhle/approval-watcher/internal/audit"
	"github.com/nhle/approval-watcher/internal/logging"
	"github.com/nhle/approval-watcher/internal/model"
)

// defaultTimeout bounds a single POST when no timeout is configured.
const defaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// Error is returned for a non-2xx response from the workflow API.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("workflow API returned %d: %s", e.StatusCode, e.Message)
}

// payload is the request body sent to the workflow API.
type payload struct {
	From     string `json:"from"`
	ID       string `json:"id"`
	Approved *bool  `json:"approved"`
	Comment  string `json:"comment"`
}

// Client posts decision events to the workflow API. It makes one attempt
// per event; failures are reported to the caller and never retried.
type Client struct {
	url        string
	token      model.Secret
	httpClient *http.Client
	sink       audit.Sink
	logger     *zap.Logger
}

// NewClient creates a workflow API client. timeout <= 0 uses 30s.
func NewClient(
	url string, token model.Secret, timeout time.Duration,
	sink audit.Sink, logger *zap.Logger,
) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = audit.Multi{}
	}
	return &Client{
		url:   url,
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		sink:   sink,
		logger: logger.Named("forward"),
	}
}

// Forward posts ev to the workflow API. Events without a request id are
// skipped without any network call. Both the attempt and its outcome are
// recorded on the audit sink.
func (c *Client) Forward(ctx context.Context, ev model.DecisionEvent) error {
	if !ev.Forwardable() {
		c.logger.Debug("no request id, not forwarding", zap.String("from", ev.FromAddress))
		return nil
	}

	body := payload{
		From:     ev.FromAddress,
		ID:       ev.RequestID,
		Approved: ev.Approved,
		Comment:  ev.Comment,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request body: %w", err)
	}

	call := model.ExternalCall{
		ID:        uuid.New().String(),
		RequestID: ev.RequestID,
		URL:       c.url,
		Method:    http.MethodPost,
		Headers: map[string]string{
			"Authorization": "Bearer " + logging.Redact(c.token.Value()),
			"Content-Type":  "application/json",
		},
		Body:      body,
		Outcome:   model.OutcomePending,
		StartedAt: time.Now(),
	}
	c.sink.ExternalCall(ctx, call)

	status, err := c.post(ctx, data)

	call.Duration = time.Since(call.StartedAt)
	call.StatusCode = status
	call.Outcome = model.OutcomeOK
	if err != nil {
		call.Outcome = model.OutcomeFailed
		call.Error = err.Error()
	}
	c.sink.ExternalCall(ctx, call)

	forwardTotal.WithLabelValues(call.Outcome).Inc()
	forwardDuration.Observe(call.Duration.Seconds())

	if err != nil {
		c.logger.Error("failed to send data to API",
			zap.String("request_id", ev.RequestID),
			zap.Int("status", status),
			zap.Error(err),
		)
		return err
	}

	c.logger.Info("data sent to API",
		zap.String("request_id", ev.RequestID),
		zap.Int("status", status),
	)
	return nil
}

// post issues the request and returns the HTTP status (0 on transport
// failure).
func (c *Client) post(ctx context.Context, data []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token.Value())
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("executing request POST %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return resp.StatusCode, &Error{
		StatusCode: resp.StatusCode,
		Message:    errorMessage(respBody, resp.Status),
	}
}

// errorMessage prefers a JSON "message" (or "error") field, then the raw
// body, then the status line.
func errorMessage(body []byte, status string) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"message", "error.message", "error"} {
			if r := gjson.GetBytes(body, path); r.Exists() && r.Type == gjson.String && r.Str != "" {
				return r.Str
			}
		}
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		if len(msg) > 200 {
			msg = msg[:200] + "..."
		}
		return msg
	}
	return status
}
