package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPProvider posts reply text to a configured TTS endpoint and returns
// the raw audio bytes of the response body.
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

type ttsRequest struct {
	Text         string  `json:"text"`
	LanguageCode string  `json:"languageCode,omitempty"`
	VoiceName    string  `json:"voiceName,omitempty"`
	Gender       string  `json:"gender,omitempty"`
	SpeakingRate float64 `json:"speakingRate,omitempty"`
}

func (p *HTTPProvider) Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error) {
	body, err := json.Marshal(ttsRequest{
		Text:         text,
		LanguageCode: voice.LanguageCode,
		VoiceName:    voice.VoiceName,
		Gender:       voice.Gender,
		SpeakingRate: voice.SpeakingRate,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tts: provider returned status %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tts: read response: %w", err)
	}
	return audio, nil
}
