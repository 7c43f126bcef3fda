package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"datasweep/config"
	"datasweep/internal/errs"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"

// GeminiClassifier implements ThreadClassifier against the Gemini REST API.
type GeminiClassifier struct {
	cfg    *config.GeminiConfig
	client *http.Client
}

// NewGeminiClassifier creates a new Gemini-backed classifier
func NewGeminiClassifier(cfg *config.GeminiConfig) *GeminiClassifier {
	return &GeminiClassifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig geminiGenConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"topP"`
	MaxOutputTokens  int     `json:"maxOutputTokens"`
	ResponseMimeType string  `json:"response_mime_type"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

type geminiResult struct {
	Responses []Classification `json:"responses"`
}

// ClassifyThread sends the thread to Gemini and parses its JSON-only reply.
func (g *GeminiClassifier) ClassifyThread(ctx context.Context, payload ThreadPayload) ([]Classification, error) {
	if g.cfg.APIKey == "" {
		return nil, errs.ValidationFailure("no Gemini API key configured")
	}

	prompt, err := buildPrompt(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to build prompt: %w", err)
	}

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenConfig{
			Temperature:      0.2,
			TopP:             0.95,
			MaxOutputTokens:  1024,
			ResponseMimeType: "application/json",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", geminiBaseURL, g.cfg.Model, g.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, errs.Transient("Gemini API call failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Transient("failed to read Gemini response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errs.ValidationFailure(fmt.Sprintf("Gemini API error %d: %s", resp.StatusCode, string(respBody)))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, errs.ValidationFailure("Gemini API returned an unexpected response")
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, errs.ValidationFailure("Gemini API returned no candidates")
	}

	result, err := extractJSON(parsed.Candidates[0].Content.Parts[0].Text)
	if err != nil {
		return nil, err
	}
	return result.Responses, nil
}

func buildPrompt(payload ThreadPayload) (string, error) {
	threadJSON, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("You are classifying broker email responses to a data deletion request. ")
	b.WriteString("Return ONLY a JSON object of the form ")
	b.WriteString(`{"responses": [{"response_id": "<string>", "response_type": "confirmation|rejection|acknowledgment|request_info|unknown", "confidence_score": 0.0, "rationale": "<short rationale>"}]}`)
	b.WriteString("\n\nRules:\n")
	b.WriteString("- Output must be valid JSON with no extra keys and no markdown.\n")
	b.WriteString("- Provide exactly one entry per input response_id.\n")
	b.WriteString("- confidence_score must be a number between 0 and 1.\n\n")
	b.WriteString("Response type definitions:\n")
	b.WriteString("- confirmation: broker confirms data deletion or removal.\n")
	b.WriteString("- rejection: broker denies the request or says no data found.\n")
	b.WriteString("- acknowledgment: broker received the request and is processing it.\n")
	b.WriteString("- request_info: broker requests more information or identity verification.\n")
	b.WriteString("- unknown: none of the above or unclear.\n\n")
	b.WriteString("Thread context (JSON):\n")
	b.Write(threadJSON)
	return b.String(), nil
}

// extractJSON tolerates markdown fencing around the model's JSON output.
func extractJSON(text string) (*geminiResult, error) {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
		cleaned = strings.TrimSpace(cleaned)
	}

	var result geminiResult
	if err := json.Unmarshal([]byte(cleaned), &result); err == nil {
		return &result, nil
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end <= start {
		return nil, errs.ValidationFailure("Gemini output did not contain valid JSON")
	}
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &result); err != nil {
		return nil, errs.ValidationFailure("Gemini output contained invalid JSON")
	}
	return &result, nil
}
