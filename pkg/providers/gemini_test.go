package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lab-analysis-server/internal/domain"
)

func geminiConfig(baseURL string) domain.ProviderConfig {
	return domain.ProviderConfig{
		Name:      "research-gemini",
		BaseURL:   baseURL,
		APIKey:    "gemini-key",
		Model:     "gemini-1.5-pro",
		Timeout:   2 * time.Second,
		RateLimit: 6000,
	}
}

func geminiBody(text string) string {
	encoded, _ := json.Marshal(map[string]interface{}{
		"candidates": []map[string]interface{}{
			{
				"content":      map[string]interface{}{"parts": []map[string]string{{"text": text}}},
				"finishReason": "STOP",
			},
		},
	})
	return string(encoded)
}

func TestGeminiProvider_Analyze(t *testing.T) {
	var gotPath, gotKey string
	var gotBody geminiRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, geminiBody(validPayload))
	}))
	defer server.Close()

	provider := NewGeminiProvider("pattern_research", geminiConfig(server.URL), quietLogger())

	result, err := provider.Analyze(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "/v1beta/models/gemini-1.5-pro:generateContent", gotPath)
	assert.Equal(t, "gemini-key", gotKey)
	require.Len(t, gotBody.Contents, 1)
	require.NotNil(t, gotBody.GenerationConfig)
	assert.Equal(t, "application/json", gotBody.GenerationConfig.ResponseMIMEType)

	assert.Equal(t, "research-gemini", result.Provider)
	assert.Equal(t, "pattern_research", result.AnalysisKind)
	assert.Equal(t, domain.UrgencyCritical, result.Urgency)
}

func TestGeminiProvider_ErrorResponses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"Server error", http.StatusServiceUnavailable, `{}`, "unexpected status 503"},
		{"API error envelope", http.StatusOK, `{"error": {"code": 429, "message": "quota exceeded"}}`, "quota exceeded"},
		{"No candidates", http.StatusOK, `{"candidates": []}`, "no candidates"},
		{"Fenced payload accepted then rejected", http.StatusOK, geminiBody("```json\n{}\n```"), "no analysis content"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			provider := NewGeminiProvider("pattern_research", geminiConfig(server.URL), quietLogger())
			_, err := provider.Analyze(context.Background(), testRequest())

			var providerErr *domain.ProviderError
			require.ErrorAs(t, err, &providerErr)
			assert.Contains(t, providerErr.Error(), tt.wantMsg)
		})
	}
}
