package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neurastack/gateway/internal/config"
	"github.com/neurastack/gateway/internal/models"
	"github.com/neurastack/gateway/internal/textutil"
)

// AuthStyle selects how the API key is attached to upstream requests.
type AuthStyle string

const (
	AuthBearer AuthStyle = "bearer"  // Authorization: Bearer <key>
	AuthHeader AuthStyle = "header"  // x-api-key: <key>
	AuthQuery  AuthStyle = "query"   // ?key=<key>
)

// HTTPProvider talks to an OpenAI-compatible chat completions endpoint.
type HTTPProvider struct {
	role   string
	cfg    config.ProviderConfig
	auth   AuthStyle
	client *http.Client
	logger *logrus.Logger
}

// NewHTTPProvider creates a provider client for one upstream backend. The
// per-call deadline comes from the caller's context; cfg.Deadline is only the
// transport-level ceiling.
func NewHTTPProvider(role string, cfg config.ProviderConfig, auth AuthStyle, logger *logrus.Logger) *HTTPProvider {
	return &HTTPProvider{
		role:   role,
		cfg:    cfg,
		auth:   auth,
		logger: logger,
		client: &http.Client{Timeout: cfg.Deadline + 2*time.Second},
	}
}

func (p *HTTPProvider) Role() string         { return p.role }
func (p *HTTPProvider) Model() string        { return p.cfg.Model }
func (p *HTTPProvider) ProviderName() string { return p.cfg.Name }

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Invoke sends the prompt upstream. Rejections come back as *ProviderError;
// the kind is derived from the transport error or HTTP status.
func (p *HTTPProvider) Invoke(ctx context.Context, prompt models.Prompt) (*models.ProviderResponse, error) {
	start := time.Now()

	body, err := json.Marshal(chatRequest{
		Model:     p.cfg.Model,
		Messages:  []chatMessage{{Role: "user", Content: prompt.Text}},
		MaxTokens: p.cfg.MaxTokens,
	})
	if err != nil {
		return nil, &ProviderError{Role: p.role, Kind: models.RejectMalformed, Err: err}
	}

	url := p.cfg.BaseURL + "/chat/completions"
	if p.auth == AuthQuery {
		url += "?key=" + p.cfg.APIKey
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{Role: p.role, Kind: models.RejectMalformed, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	switch p.auth {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	case AuthHeader:
		req.Header.Set("x-api-key", p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		kind := models.RejectTransport
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			kind = models.RejectTimeout
		} else if errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled {
			kind = models.RejectCancelled
		}
		return nil, &ProviderError{Role: p.role, Kind: kind, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := classifyStatus(resp.StatusCode)
		// Drain a bounded amount for the reject reason.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &ProviderError{
			Role: p.role,
			Kind: kind,
			Err:  fmt.Errorf("upstream status %d: %s", resp.StatusCode, string(snippet)),
		}
	}

	var parsed chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&parsed); err != nil {
		return nil, &ProviderError{Role: p.role, Kind: models.RejectMalformed, Err: err}
	}
	if len(parsed.Choices) == 0 {
		return nil, &ProviderError{Role: p.role, Kind: models.RejectMalformed, Err: errors.New("no choices in upstream response")}
	}

	content := parsed.Choices[0].Message.Content
	promptTokens := parsed.Usage.PromptTokens
	responseTokens := parsed.Usage.CompletionTokens
	if promptTokens == 0 {
		promptTokens = textutil.EstimateTokens(prompt.Text)
	}
	if responseTokens == 0 {
		responseTokens = textutil.EstimateTokens(content)
	}

	return &models.ProviderResponse{
		Role:           p.role,
		Provider:       p.cfg.Name,
		Model:          p.cfg.Model,
		Status:         models.StatusFulfilled,
		Content:        content,
		ResponseTimeMS: time.Since(start).Milliseconds(),
		PromptTokens:   promptTokens,
		ResponseTokens: responseTokens,
		RawConfidence:  confidenceFromFinish(parsed.Choices[0].FinishReason, content),
	}, nil
}

func classifyStatus(status int) models.RejectKind {
	switch {
	case status == http.StatusTooManyRequests:
		return models.RejectQuota
	case status >= 500:
		return models.RejectUpstream5xx
	case status >= 400:
		return models.RejectUpstream4xx
	default:
		return models.RejectTransport
	}
}

// confidenceFromFinish derives a raw confidence from the upstream finish
// reason and content length. Upstream APIs do not report confidence directly;
// this raw value is what the calibration subsystem corrects.
func confidenceFromFinish(finishReason, content string) float64 {
	base := 0.7
	if finishReason == "length" {
		base = 0.55
	}
	words := textutil.WordCount(content)
	switch {
	case words == 0:
		return 0.05
	case words < 10:
		base -= 0.2
	case words > 50:
		base += 0.1
	}
	if base < 0 {
		return 0
	}
	if base > 1 {
		return 1
	}
	return base
}

// CostEstimate computes the dollar estimate for a token count pair.
func (p *HTTPProvider) CostEstimate(promptTokens, responseTokens int) float64 {
	return float64(promptTokens)/1000*p.cfg.CostPer1KInput +
		float64(responseTokens)/1000*p.cfg.CostPer1KOutput
}

// Config exposes the provider's static configuration.
func (p *HTTPProvider) Config() config.ProviderConfig { return p.cfg }
