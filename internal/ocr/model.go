package ocr

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Model is the slice of the GenAI client the processor calls. *genai.Models
// satisfies it; tests provide scripted fakes.
type Model interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// NewGeminiModel connects to the Gemini API with an API key.
func NewGeminiModel(ctx context.Context, apiKey string) (Model, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return client.Models, nil
}

// blockedCategories lists the harm categories whose blocking is disabled.
var blockedCategories = []genai.HarmCategory{
	genai.HarmCategoryHateSpeech,
	genai.HarmCategoryHarassment,
	genai.HarmCategoryDangerousContent,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryCivicIntegrity,
}

func generationConfig(opts Options) *genai.GenerateContentConfig {
	safety := make([]*genai.SafetySetting, 0, len(blockedCategories))
	for _, category := range blockedCategories {
		safety = append(safety, &genai.SafetySetting{
			Category:  category,
			Threshold: genai.HarmBlockThresholdBlockNone,
		})
	}
	return &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(opts.Temperature),
		CandidateCount:  1,
		MaxOutputTokens: int32(opts.MaxOutputTokens),
		SafetySettings:  safety,
	}
}

func chunkContents(prompt string, data []byte) []*genai.Content {
	return []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{Data: data, MIMEType: "application/pdf"}},
			{Text: prompt},
		},
	}}
}

// candidateText concatenates the answer parts of a candidate, skipping thoughts.
func candidateText(c *genai.Candidate) string {
	if c == nil || c.Content == nil {
		return ""
	}
	var text string
	for _, part := range c.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		text += part.Text
	}
	return text
}

// salvageText returns the first non-thought text part of a candidate that
// stopped early.
func salvageText(c *genai.Candidate) (string, error) {
	if c == nil || c.Content == nil {
		return "", fmt.Errorf("candidate has no content")
	}
	if len(c.Content.Parts) == 0 {
		return "", fmt.Errorf("candidate content has no parts")
	}
	for _, p := range c.Content.Parts {
		if p == nil || p.Thought || p.Text == "" {
			continue
		}
		return p.Text, nil
	}
	return "", fmt.Errorf("candidate has no answer text")
}

func usageTokens(resp *genai.GenerateContentResponse) int {
	if resp == nil || resp.UsageMetadata == nil {
		return 0
	}
	return int(resp.UsageMetadata.TotalTokenCount)
}
