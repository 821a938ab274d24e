package ai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI implements all four collaborator interfaces against the OpenAI
// API: chat completions for replies and classification, whisper for
// transcription, and the speech endpoint for synthesis.
type OpenAI struct {
	client    *openai.Client
	chatModel string
}

var (
	_ Completer   = (*OpenAI)(nil)
	_ Classifier  = (*OpenAI)(nil)
	_ Transcriber = (*OpenAI)(nil)
	_ Synthesizer = (*OpenAI)(nil)
)

func NewOpenAI(apiKey, chatModel string) (*OpenAI, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openai: missing api key")
	}
	if strings.TrimSpace(chatModel) == "" {
		chatModel = openai.ChatModelGPT4oMini
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAI{client: &client, chatModel: chatModel}, nil
}

func (o *OpenAI) Complete(ctx context.Context, messages []Message) (Reply, error) {
	params := openai.ChatCompletionNewParams{
		Model:    o.chatModel,
		Messages: buildChatMessages(messages),
	}
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Reply{}, fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, fmt.Errorf("openai chat: no choices")
	}
	text, tag := SplitEmotionTag(resp.Choices[0].Message.Content)
	if text == "" {
		return Reply{}, fmt.Errorf("openai chat: empty reply")
	}
	return Reply{Text: text, EmotionTag: tag}, nil
}

func (o *OpenAI) Classify(ctx context.Context, text string, emotions []string) (map[string]float64, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: o.chatModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(classifyPrompt(text, emotions)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai classify: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai classify: no choices")
	}
	return ParseScores(resp.Choices[0].Message.Content, emotions), nil
}

func (o *OpenAI) Transcribe(ctx context.Context, audio []byte, format string) (string, error) {
	name := "audio." + strings.TrimPrefix(strings.TrimSpace(format), ".")
	resp, err := o.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModelWhisper1,
		File:  openai.File(bytes.NewReader(audio), name, "application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("openai transcribe: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}

func (o *OpenAI) Synthesize(ctx context.Context, text, voice string) (io.ReadCloser, error) {
	if strings.TrimSpace(voice) == "" {
		voice = string(openai.AudioSpeechNewParamsVoiceAlloy)
	}
	resp, err := o.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModelTTS1,
		Input:          text,
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return nil, fmt.Errorf("openai synthesize: %w", err)
	}
	return resp.Body, nil
}

func buildChatMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			params = append(params, openai.SystemMessage(m.Content))
		case RoleAssistant:
			params = append(params, openai.AssistantMessage(m.Content))
		default:
			params = append(params, openai.UserMessage(m.Content))
		}
	}
	return params
}
