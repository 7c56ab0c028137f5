package providers

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
	"golang.org/x/time/rate"

	"github.com/lab-analysis-server/internal/domain"
)

// ChatProvider calls an OpenAI-compatible chat-completions endpoint and asks
// for the analysis payload as a JSON object. Used for the primary clinical
// provider and any research provider exposing the same API shape.
type ChatProvider struct {
	name       string
	kind       string
	config     domain.ProviderConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logrus.Logger
}

// NewChatProvider creates a chat-completions analysis provider. kind labels
// the analysis role ("clinical", "pattern_research", ...).
func NewChatProvider(kind string, config domain.ProviderConfig, logger *logrus.Logger) *ChatProvider {
	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(float64(config.RateLimit) / 60.0)
	}
	return &ChatProvider{
		name:   config.Name,
		kind:   kind,
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(limit, 1),
		log:     logger,
	}
}

// Name returns the provider identifier.
func (p *ChatProvider) Name() string {
	return p.name
}

type chatCompletionRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *chatFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatFormat struct {
	Type string `json:"type"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Analyze sends the document description and parses the structured response.
// The per-call timeout from configuration is always applied; callers may
// impose a tighter deadline through ctx.
func (p *ChatProvider) Analyze(ctx context.Context, req *domain.AnalysisRequest) (*domain.ProviderAnalysisResult, error) {
	started := time.Now()

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, p.wrapError("rate limiter wait canceled", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	body := chatCompletionRequest{
		Model: p.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a clinical laboratory analyst. " + responseSchemaInstruction},
			{Role: "user", Content: buildDocumentDescription(req)},
		},
		ResponseFormat: &chatFormat{Type: "json_object"},
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, p.wrapError("encoding request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.config.BaseURL+"/chat/completions", bytes.NewReader(encoded))
	if err != nil {
		return nil, p.wrapError("creating request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, p.wrapError("executing request", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, p.wrapError("reading response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, p.wrapError(fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(raw, &completion); err != nil {
		return nil, p.wrapError("decoding completion envelope", err)
	}
	if completion.Error != nil {
		return nil, p.wrapError("provider reported error: "+completion.Error.Message, nil)
	}
	if len(completion.Choices) == 0 {
		return nil, p.wrapError("completion has no choices", nil)
	}

	payload, err := parseAnalysisPayload(p.name, completion.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	result := payload.toResult(p.name, p.kind)
	result.ProcessingTime = time.Since(started)

	p.log.WithFields(logrus.Fields{
		"provider":        p.name,
		"request_id":      req.RequestID,
		"urgency":         result.Urgency,
		"confidence":      result.Confidence,
		"processing_time": result.ProcessingTime,
	}).Info("Provider analysis completed")

	return result, nil
}

func (p *ChatProvider) wrapError(reason string, err error) *domain.ProviderError {
	pe := domain.NewProviderError(p.name, reason, err)
	pe.Timeout = isTimeout(err)
	return pe
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
