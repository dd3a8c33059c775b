package iris

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/iris-dispatch-go/pkg/errors"
)

// Client is the reply sink: it delivers outbound text to the Iris bridge
// over its HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func (c *Client) GetConfig(ctx context.Context) (*Config, error) {
	var config Config
	if err := c.doRequest(ctx, "GET", "/config", nil, &config); err != nil {
		c.logger.Error("Failed to get Iris config", zap.Error(err))
		return nil, err
	}
	return &config, nil
}

func (c *Client) SendMessage(ctx context.Context, room, message string) error {
	req := ReplyRequest{
		Type: "text",
		Room: room,
		Data: message,
	}

	if err := c.doRequest(ctx, "POST", "/reply", req, nil); err != nil {
		c.logger.Error("Failed to send message",
			zap.Error(err),
			zap.String("room", room),
		)
		return err
	}

	return nil
}

func (c *Client) Ping(ctx context.Context) bool {
	_, err := c.GetConfig(ctx)
	return err == nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, reqBody, respBody any) error {
	url := c.baseURL + path

	var bodyReader io.Reader
	if reqBody != nil {
		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return apiError("failed to marshal request", 400, url, err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return apiError("failed to create request", 500, url, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apiError("request failed", 500, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return apiError(fmt.Sprintf("Iris API error: %s: %s", resp.Status, string(bodyBytes)), resp.StatusCode, url, nil)
	}

	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return apiError("failed to decode response", 500, url, err)
		}
	}

	return nil
}

func apiError(message string, status int, url string, cause error) error {
	e := &errors.DispatchError{
		Message: message,
		Code:    "API_ERROR",
		Context: map[string]any{
			"url":    url,
			"status": status,
		},
	}
	if cause != nil {
		e.Cause = cause
	}
	return e
}
