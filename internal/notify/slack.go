package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const defaultSlackBaseURL = "https://slack.com/api"

// Slack posts notifications to a channel with chat.postMessage.
type Slack struct {
	Token   string
	Channel string
	BaseURL string
	HTTP    *http.Client
}

func (s *Slack) Notify(ctx context.Context, n Notification) error {
	if s.HTTP == nil {
		s.HTTP = &http.Client{Timeout: 10 * time.Second}
	}
	baseURL := s.BaseURL
	if baseURL == "" {
		baseURL = defaultSlackBaseURL
	}
	if s.Token == "" {
		return errors.New("missing slack token")
	}
	if s.Channel == "" {
		return errors.New("missing slack channel")
	}

	body, err := json.Marshal(map[string]any{
		"channel": s.Channel,
		"text":    "*" + n.Subject() + "*\n```" + n.Body() + "```",
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat.postMessage", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.Token)
	req.Header.Set("Content-Type", "application/json")

	res, err := s.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("post slack message: %w", err)
	}
	defer res.Body.Close()

	var resp struct {
		OK    bool   `json:"ok"`
		Error string `json:"error,omitempty"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return fmt.Errorf("decode slack response: %w", err)
	}
	if !resp.OK {
		if resp.Error == "" {
			resp.Error = "slack api error"
		}
		return fmt.Errorf("slack: %s", resp.Error)
	}
	return nil
}
