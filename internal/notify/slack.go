package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SlackNotifier sends notifications to a Slack incoming webhook
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// SlackMessage is an incoming-webhook payload with one attachment per run
type SlackMessage struct {
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment carries the run summary, colored by outcome
type SlackAttachment struct {
	Color  string `json:"color"`
	Title  string `json:"title,omitempty"`
	Text   string `json:"text"`
	Footer string `json:"footer,omitempty"`
	Ts     int64  `json:"ts,omitempty"`
}

// NewSlackNotifier creates a new Slack notifier
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

var slackColors = map[NotificationType]string{
	NotifySuccess: "good",
	NotifyWarning: "warning",
	NotifyError:   "danger",
}

// SlackColor returns the attachment color for a notification type
func SlackColor(t NotificationType) string {
	if c, ok := slackColors[t]; ok {
		return c
	}
	return "#439FE0"
}

// BuildSlackMessage converts a notification into a webhook payload
func BuildSlackMessage(n Notification) SlackMessage {
	text := n.Message
	if len(n.Links) > 0 {
		text += "\n" + strings.Join(n.Links, "\n")
	}

	msg := SlackMessage{
		Text: n.Title,
		Attachments: []SlackAttachment{
			{
				Color:  SlackColor(n.Type),
				Text:   text,
				Footer: "sprint-orch",
				Ts:     time.Now().Unix(),
			},
		},
	}
	if n.RunID != "" {
		msg.Attachments[0].Title = "Run " + n.RunID
	}
	return msg
}

// Send posts the notification to the webhook
func (s *SlackNotifier) Send(ctx context.Context, n Notification) error {
	if s.webhookURL == "" {
		return nil // Disabled
	}

	msg := BuildSlackMessage(n)
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}

	return nil
}
