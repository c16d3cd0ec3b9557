package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// intents enumerates the fixed classification set the resolver's system
// prompt is constrained to. Anything the model can't place goes to UNKNOWN.
const (
	IntentWeatherQuery = "WEATHER_QUERY"
	IntentTimeQuery    = "TIME_QUERY"
	IntentAccountQuery = "ACCOUNT_QUERY"
	IntentHelpRequest  = "HELP_REQUEST"
	IntentUnknown      = "UNKNOWN"
)

// GeminiResolver answers queries with a configured Gemini model, grounded
// in a per-user system instruction so the model answers only from context
// the caller has already established for that user, and classifies each
// query into the fixed intent set alongside its answer.
type GeminiResolver struct {
	client *genai.Client
	model  string
}

// NewGeminiResolver constructs a resolver using apiKey against model
// (e.g. "gemini-2.0-flash").
func NewGeminiResolver(ctx context.Context, apiKey, model string) (*GeminiResolver, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("query: create genai client: %w", err)
	}
	return &GeminiResolver{client: client, model: model}, nil
}

// geminiAnswer is the JSON shape the system prompt constrains responses to.
type geminiAnswer struct {
	Answer     string  `json:"answer"`
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

var validIntents = map[string]bool{
	IntentWeatherQuery: true,
	IntentTimeQuery:    true,
	IntentAccountQuery: true,
	IntentHelpRequest:  true,
	IntentUnknown:      true,
}

const systemPromptTemplate = `You are answering a question for user %s. Answer concisely and only from information relevant to this user.

Classify the question's intent as exactly one of: WEATHER_QUERY, TIME_QUERY, ACCOUNT_QUERY, HELP_REQUEST, UNKNOWN. Use UNKNOWN when none of the others clearly apply.

Respond with a single JSON object and nothing else, matching this shape:
{"answer": "<your answer text>", "intent": "<one of the intents above>", "confidence": <number between 0 and 1>}`

func (r *GeminiResolver) Resolve(ctx context.Context, userID, queryText string) (Answer, error) {
	system := fmt.Sprintf(systemPromptTemplate, userID)

	resp, err := r.client.Models.GenerateContent(ctx, r.model, genai.Text(queryText), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return Answer{}, fmt.Errorf("query: generate content: %w", err)
	}

	return parseGeminiAnswer(resp.Text()), nil
}

// parseGeminiAnswer decodes the constrained JSON shape, falling back to the
// raw text with an UNKNOWN intent if the model didn't honor the format.
func parseGeminiAnswer(raw string) Answer {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSuffix(strings.TrimSpace(raw), "```"), "```json"))

	var parsed geminiAnswer
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil || parsed.Answer == "" {
		return Answer{Text: strings.TrimSpace(raw), Intent: IntentUnknown}
	}

	intent := strings.ToUpper(strings.TrimSpace(parsed.Intent))
	if !validIntents[intent] {
		intent = IntentUnknown
	}

	confidence := parsed.Confidence
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	return Answer{
		Text:       strings.TrimSpace(parsed.Answer),
		Intent:     intent,
		Confidence: confidence,
	}
}
