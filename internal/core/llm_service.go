package core

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/generative-ai-go/genai"
	"github.com/samber/lo"
	"google.golang.org/api/option"
	"gwi.com/botai-chat/internal/config"
	"gwi.com/botai-chat/internal/store"
)

const (
	textSystemInstruction = "You are an AI that helps with every question users ask in a group chat. " +
		"Answer briefly and clearly."

	imagePromptTemplate = "Answer the following question based on the image, in at most 20 words: %s"

	summaryPromptTemplate = "You are an AI that summarizes chat conversations.\n" +
		"Here are the last %d messages of the chat:\n\n%s\n\n" +
		"Write a short summary of the conversation above in 2-3 clear and informative sentences."

	noTextAnswer    = "Sorry, I can't answer that."
	noImageAnswer   = "Sorry, I can't analyze the image."
	noSummaryAnswer = "Sorry, I can't make a summary."
)

type generateFunc func(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)

// GeminiGateway is the AIGateway backed by the Gemini API.
type GeminiGateway struct {
	client        *genai.Client
	textModel     generateFunc
	plainModel    generateFunc
	httpClient    *http.Client
	timeout       time.Duration
	imageMaxBytes int64
}

func NewGeminiGateway(ctx context.Context) (*GeminiGateway, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(config.AppConfig.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	textModel := client.GenerativeModel(config.AppConfig.GeminiModel)
	textModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(textSystemInstruction)},
	}
	plainModel := client.GenerativeModel(config.AppConfig.GeminiModel)

	timeout := time.Duration(config.AppConfig.AITimeoutSeconds) * time.Second
	return &GeminiGateway{
		client:        client,
		textModel:     textModel.GenerateContent,
		plainModel:    plainModel.GenerateContent,
		httpClient:    &http.Client{Timeout: timeout},
		timeout:       timeout,
		imageMaxBytes: int64(config.AppConfig.ImageMaxBytes),
	}, nil
}

func (g *GeminiGateway) Close() {
	if g.client != nil {
		if err := g.client.Close(); err != nil {
			log.Printf("Error closing GenAI client: %v", err)
		} else {
			log.Println("GenAI client closed.")
		}
	}
}

func (g *GeminiGateway) GenerateFromText(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.textModel(ctx, genai.Text("user: "+prompt))
	if err != nil {
		return "", fmt.Errorf("gemini text generation failed: %w", err)
	}
	return responseText(resp, noTextAnswer), nil
}

func (g *GeminiGateway) GenerateFromImage(ctx context.Context, imageURL, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	image, err := g.fetchImage(ctx, imageURL)
	if err != nil {
		return "", err
	}

	resp, err := g.plainModel(ctx, image, genai.Text(fmt.Sprintf(imagePromptTemplate, prompt)))
	if err != nil {
		return "", fmt.Errorf("gemini image analysis failed: %w", err)
	}
	return responseText(resp, noImageAnswer), nil
}

func (g *GeminiGateway) Summarize(ctx context.Context, messages []store.Message, count int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.plainModel(ctx, genai.Text(fmt.Sprintf(summaryPromptTemplate, count, transcript(messages))))
	if err != nil {
		return "", fmt.Errorf("gemini summary generation failed: %w", err)
	}
	return responseText(resp, noSummaryAnswer), nil
}

// fetchImage downloads the image so it can be sent inline; the URL itself is not
// reachable by the model.
func (g *GeminiGateway) fetchImage(ctx context.Context, imageURL string) (genai.Blob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return genai.Blob{}, fmt.Errorf("invalid image url: %w", err)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return genai.Blob{}, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return genai.Blob{}, fmt.Errorf("failed to fetch image: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, g.imageMaxBytes+1))
	if err != nil {
		return genai.Blob{}, fmt.Errorf("failed to read image: %w", err)
	}
	if int64(len(data)) > g.imageMaxBytes {
		return genai.Blob{}, fmt.Errorf("image exceeds %d bytes", g.imageMaxBytes)
	}

	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return genai.Blob{}, fmt.Errorf("unsupported image content type %q", mtype.String())
	}
	return genai.Blob{MIMEType: mtype.String(), Data: data}, nil
}

func transcript(messages []store.Message) string {
	lines := lo.Map(messages, func(msg store.Message, _ int) string {
		username := msg.Author.Username
		if username == "" {
			username = "Unknown"
		}
		content := msg.Content
		if msg.HasImage() {
			content = "[sent an image]"
		}
		return username + ": " + content
	})
	return strings.Join(lines, "\n")
}

func responseText(resp *genai.GenerateContentResponse, fallback string) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		log.Println("Gemini response was empty or had no valid candidates/parts.")
		return fallback
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		} else {
			log.Printf("Gemini response part was not text: %T", part)
		}
	}

	if text.Len() == 0 {
		return fallback
	}
	return text.String()
}
