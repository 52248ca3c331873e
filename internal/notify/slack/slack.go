// Package slack sends analysis task notifications to Slack via incoming
// webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/analysis"
	"github.com/linnemanlabs/warden/internal/object"
)

const httpTimeout = 10 * time.Second

// Notifier posts finished analysis tasks to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

var _ analysis.Notifier = (*Notifier)(nil)

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Send posts ev to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, ev *analysis.TaskEvent) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(ev))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "slack notification sent", "analysis_id", ev.AnalysisID)
	return nil
}

func buildMessage(ev *analysis.TaskEvent) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(ev),
			{"type": "divider"},
			fieldsBlock(ev),
			{"type": "divider"},
			contextBlock(ev),
		},
	}
}

func headerBlock(ev *analysis.TaskEvent) map[string]any {
	title := "Analysis Complete"
	if ev.Status == object.StatusError {
		title = "Analysis Failed"
	}
	text := fmt.Sprintf("%s %s: %s on %s %s", statusEmoji(ev.Status), title, ev.ServiceName, ev.ObjectType, ev.ObjectID)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(ev *analysis.TaskEvent) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Status:* %s", ev.Status),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Service:* %s", ev.ServiceName),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Analyst:* %s", ev.Analyst),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Results:* %d", ev.Results),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Duration:* %s", duration(ev)),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func contextBlock(ev *analysis.TaskEvent) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("warden • analysis %s • %s", ev.AnalysisID, ev.FinishDate.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func statusEmoji(status object.Status) string {
	if status == object.StatusError {
		return "\U0001f534" // red circle
	}
	return "\U0001f7e2" // green circle
}

func duration(ev *analysis.TaskEvent) string {
	if ev.StartDate.IsZero() || ev.FinishDate.Before(ev.StartDate) {
		return "n/a"
	}
	return ev.FinishDate.Sub(ev.StartDate).Round(100 * time.Millisecond).String()
}
