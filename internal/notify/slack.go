package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const slackPostMessageURL = "https://slack.com/api/chat.postMessage"

// SlackSender posts through the chat.postMessage Web API.
type SlackSender struct {
	Token    string
	Username string // account nickname shown as the sender
	Icon     string // emoji such as ":robot_face:"
	URL      string
	Client   *http.Client
}

func NewSlackSender(token, username, icon string) *SlackSender {
	return &SlackSender{
		Token:    token,
		Username: username,
		Icon:     icon,
		URL:      slackPostMessageURL,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type slackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (s *SlackSender) Send(ctx context.Context, channel, text string) error {
	payload := map[string]any{
		"channel": channel,
		"text":    text,
	}
	if s.Username != "" {
		payload["username"] = s.Username
	}
	if s.Icon != "" {
		payload["icon_emoji"] = s.Icon
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.Token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("slack HTTP %d", resp.StatusCode)
	}
	var out slackResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode slack response: %w", err)
	}
	if !out.OK {
		return fmt.Errorf("slack: %s", out.Error)
	}
	return nil
}
