package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPProvider posts an utterance to a configured STT endpoint and decodes
// its JSON response. It follows the teacher's pattern of thin, single-
// purpose HTTP clients rather than a vendor SDK, since no STT client
// library appears anywhere in the retrieved corpus.
type HTTPProvider struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

// NewHTTPProvider constructs an HTTPProvider with a sane request timeout.
func NewHTTPProvider(endpoint, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Client:   &http.Client{Timeout: 20 * time.Second},
	}
}

type sttResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func (p *HTTPProvider) Transcribe(ctx context.Context, audio []byte, cfg Config) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(audio))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "audio/"+strings.ToLower(string(cfg.Encoding)))
	req.Header.Set("X-Sample-Rate-Hz", strconv.Itoa(cfg.SampleRateHz))
	req.Header.Set("X-Language-Code", cfg.LanguageCode)
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("stt: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("stt: provider returned status %d", resp.StatusCode)
	}

	var out sttResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("stt: decode response: %w", err)
	}
	return Result{Text: out.Text, Confidence: out.Confidence}, nil
}
