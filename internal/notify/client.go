package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// AccessRequestMessage contains everything needed to announce a new access request
type AccessRequestMessage struct {
	RequestID      string
	BusinessID     string
	RequesterName  string
	RequesterEmail string
	RequestedRole  string
	Message        string
	ReviewURL      string
}

// Client posts notifications to a Slack-compatible incoming webhook
type Client struct {
	httpClient *http.Client
	webhookURL string
	timeout    time.Duration
}

// NewClient creates a client for webhookURL with the specified timeout.
// An empty webhookURL disables notifications.
func NewClient(webhookURL string, timeoutMS int) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutMS) * time.Millisecond,
		},
		webhookURL: webhookURL,
		timeout:    time.Duration(timeoutMS) * time.Millisecond,
	}
}

// Enabled reports whether a webhook is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.webhookURL != ""
}

type webhookPayload struct {
	Text string `json:"text"`
}

// PostAccessRequest announces a submitted access request.
// This method never returns errors to the caller; failures are logged at WARN level
// so a broken webhook cannot fail a submission.
func (c *Client) PostAccessRequest(ctx context.Context, msg AccessRequestMessage) {
	if !c.Enabled() {
		return
	}

	jsonData, err := json.Marshal(webhookPayload{Text: buildMessageText(msg)})
	if err != nil {
		log.Warn().Err(err).Str("request_id", msg.RequestID).Msg("Failed to marshal notification payload")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		log.Warn().Err(err).Str("webhook_url", "<set>").Msg("Failed to create notification request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeoutError(err) {
			log.Warn().
				Err(err).
				Dur("timeout_ms", c.timeout).
				Str("request_id", msg.RequestID).
				Msg("Access request notification timed out")
		} else {
			log.Warn().
				Err(err).
				Str("request_id", msg.RequestID).
				Msg("Failed to send access request notification")
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn().
			Int("status_code", resp.StatusCode).
			Str("request_id", msg.RequestID).
			Msg("Notification webhook returned unexpected status code")
		return
	}

	log.Info().
		Str("request_id", msg.RequestID).
		Str("business_id", msg.BusinessID).
		Msg("Access request notification sent")
}

func buildMessageText(msg AccessRequestMessage) string {
	text := fmt.Sprintf(
		"*Access request*\n\n"+
			"*From:* %s <%s>\n"+
			"*Role:* %s\n"+
			"*Business:* `%s`\n",
		msg.RequesterName,
		msg.RequesterEmail,
		msg.RequestedRole,
		msg.BusinessID,
	)
	if msg.Message != "" {
		text += "\n> " + msg.Message + "\n"
	}
	if msg.ReviewURL != "" {
		text += fmt.Sprintf("\n<%s|Review request>", msg.ReviewURL)
	}
	return text
}

func isTimeoutError(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
