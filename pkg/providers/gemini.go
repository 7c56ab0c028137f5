package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/lab-analysis-server/internal/domain"
)

// GeminiProvider calls the Gemini generateContent API with a JSON response
// MIME type. Used as a research provider.
type GeminiProvider struct {
	name       string
	kind       string
	config     domain.ProviderConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logrus.Logger
}

// NewGeminiProvider creates a Gemini-backed analysis provider.
func NewGeminiProvider(kind string, config domain.ProviderConfig, logger *logrus.Logger) *GeminiProvider {
	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(float64(config.RateLimit) / 60.0)
	}
	return &GeminiProvider{
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
func (p *GeminiProvider) Name() string {
	return p.name
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	ResponseMIMEType string `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Analyze sends the document description and parses the structured response.
func (p *GeminiProvider) Analyze(ctx context.Context, req *domain.AnalysisRequest) (*domain.ProviderAnalysisResult, error) {
	started := time.Now()

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, p.wrapError("rate limiter wait canceled", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	prompt := "You are a clinical laboratory analyst focusing on cross-value patterns and research context. " +
		responseSchemaInstruction + "\n\n" + buildDocumentDescription(req)

	body := geminiRequest{
		Contents: []geminiContent{
			{Parts: []geminiPart{{Text: prompt}}},
		},
		GenerationConfig: &geminiGenerationConfig{ResponseMIMEType: "application/json"},
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, p.wrapError("encoding request", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		p.config.BaseURL, p.config.Model, p.config.APIKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, p.wrapError("creating request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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

	var generated geminiResponse
	if err := json.Unmarshal(raw, &generated); err != nil {
		return nil, p.wrapError("decoding response envelope", err)
	}
	if generated.Error != nil {
		return nil, p.wrapError("provider reported error: "+generated.Error.Message, nil)
	}
	if len(generated.Candidates) == 0 || len(generated.Candidates[0].Content.Parts) == 0 {
		return nil, p.wrapError("response has no candidates", nil)
	}

	payload, err := parseAnalysisPayload(p.name, generated.Candidates[0].Content.Parts[0].Text)
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

func (p *GeminiProvider) wrapError(reason string, err error) *domain.ProviderError {
	pe := domain.NewProviderError(p.name, reason, err)
	pe.Timeout = isTimeout(err)
	return pe
}
