package ai

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/genai"
)

// GenAI implements Completer and Classifier on top of the Gemini API.
type GenAI struct {
	client *genai.Client
	model  string
}

var (
	_ Completer  = (*GenAI)(nil)
	_ Classifier = (*GenAI)(nil)
)

func NewGenAI(ctx context.Context, apiKey, model string) (*GenAI, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("genai: missing api key")
	}
	if strings.TrimSpace(model) == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return &GenAI{client: client, model: model}, nil
}

func (g *GenAI) Complete(ctx context.Context, messages []Message) (Reply, error) {
	var system strings.Builder
	var contents []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.Content)
		case RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: m.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}

	var cfg *genai.GenerateContentConfig
	if system.Len() > 0 {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: system.String()}}},
		}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return Reply{}, fmt.Errorf("genai generate: %w", err)
	}

	var sb strings.Builder
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	text, tag := SplitEmotionTag(sb.String())
	if text == "" {
		return Reply{}, fmt.Errorf("genai generate: empty reply")
	}
	return Reply{Text: text, EmotionTag: tag}, nil
}

func (g *GenAI) Classify(ctx context.Context, text string, emotions []string) (map[string]float64, error) {
	prompt := classifyPrompt(text, emotions)
	resp, err := g.client.Models.GenerateContent(ctx, g.model, []*genai.Content{
		{Role: "user", Parts: []*genai.Part{{Text: prompt}}},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("genai classify: %w", err)
	}
	var sb strings.Builder
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	return ParseScores(sb.String(), emotions), nil
}

func classifyPrompt(text string, emotions []string) string {
	return fmt.Sprintf(
		"Classify the emotional content of the following message. "+
			"Respond with one line per emotion in the form name: score, where "+
			"score is between 0.0 and 1.0. Only use these emotion names: %s. "+
			"Omit emotions the message carries no signal for.\n\nMessage: %s",
		strings.Join(emotions, ", "), text)
}

// SplitEmotionTag strips a trailing [emotion:tag] marker from model output.
// The marker is how the completion collaborator reports reply sentiment; if
// it is absent the tag comes back empty and the caller defaults it.
func SplitEmotionTag(s string) (text, tag string) {
	s = strings.TrimSpace(s)
	open := strings.LastIndex(s, "[emotion:")
	if open < 0 || !strings.HasSuffix(s, "]") {
		return s, ""
	}
	tag = strings.TrimSpace(strings.TrimSuffix(s[open+len("[emotion:"):], "]"))
	text = strings.TrimSpace(s[:open])
	return text, strings.ToLower(tag)
}

// ParseScores extracts "name: score" lines from model output, keeping only
// known emotion names and clamping scores into [0,1]. Anything unparseable
// is skipped; a fully unparseable response yields an empty map.
func ParseScores(raw string, emotions []string) map[string]float64 {
	known := make(map[string]struct{}, len(emotions))
	for _, e := range emotions {
		known[strings.ToLower(e)] = struct{}{}
	}
	out := make(map[string]float64)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.Trim(line, "-*` "))
		idx := strings.IndexAny(line, ":=")
		if idx <= 0 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(line[:idx]))
		if _, ok := known[name]; !ok {
			continue
		}
		score, err := strconv.ParseFloat(strings.TrimSpace(line[idx+1:]), 64)
		if err != nil {
			continue
		}
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		out[name] = score
	}
	return out
}
