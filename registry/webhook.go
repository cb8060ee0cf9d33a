package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/journeyhq/journey/logger"
	"go.uber.org/zap"
)

var _ Handler = new(webhookHandler)

// webhookHandler posts the step params to an external endpoint. Network
// failures and 5xx answers are retryable; a 4xx means the request itself is
// wrong and retrying cannot help.
type webhookHandler struct {
	client *http.Client
}

func NewWebhookHandler() Handler {
	return &webhookHandler{
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *webhookHandler) Name() string {
	return "webhook"
}

func (h *webhookHandler) Execute(ctx Context) Result {
	url, ok := ctx.Params["url"].(string)
	if !ok || url == "" {
		return Fail(fmt.Errorf("webhook requires a url param"))
	}
	method, _ := ctx.Params["method"].(string)
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if payload, ok := ctx.Params["body"]; ok {
		data, err := json.Marshal(payload)
		if err != nil {
			return Fail(err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(strings.ToUpper(method), url, body)
	if err != nil {
		return Fail(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if headers, ok := ctx.Params["headers"].(map[string]any); ok {
		for name, value := range headers {
			req.Header.Set(name, fmt.Sprintf("%v", value))
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Retry(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return Retry(fmt.Errorf("webhook %s answered %d", url, resp.StatusCode))
	case resp.StatusCode >= 400:
		return Fail(fmt.Errorf("webhook %s answered %d", url, resp.StatusCode))
	}

	vars := map[string]any{"status": resp.StatusCode}
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var parsed any
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err == nil {
			vars["response"] = parsed
		}
	}
	logger.Debug("webhook delivered", zap.String("url", url), zap.Int("status", resp.StatusCode))
	return Result{Kind: SUCCESS, Vars: vars}
}
