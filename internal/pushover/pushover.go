// Package pushover delivers one-line notifications through the Pushover messages API.
package pushover

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	apiURL    = "https://api.pushover.net/1/messages.json"
	userAgent = "spigell/career-agent"
)

type Client struct {
	user       string
	token      string
	logger     *zap.Logger
	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
}

func New(logger *zap.Logger, user, token string) *Client {
	return &Client{
		user:   user,
		token:  token,
		APIURL: apiURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:    logger,
		UserAgent: userAgent,
	}
}

// Notify posts message to Pushover. Transport failures are returned; the
// response status is only logged since nothing depends on it.
func (c *Client) Notify(ctx context.Context, message string) error {
	c.logger.Info("push", zap.String("message", message))

	form := url.Values{}
	form.Set("user", c.user)
	form.Set("token", c.token)
	form.Set("message", message)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.UserAgent)

	c.logger.Debug("make request", zap.String("url", req.URL.String()))
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("post push notification: %w", err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		c.logger.Warn("push rejected", zap.String("status", resp.Status))
	}

	return nil
}
