package core

import (
	"context"
	"fmt"
	"log"

	"github.com/samber/lo"
	"gwi.com/botai-chat/internal/store"
)

// HistoryLimit bounds the snapshot handed to a joining participant.
const HistoryLimit = 20

const (
	textFallback    = "Sorry, an error occurred during text generation."
	imageFallback   = "Sorry, an error occurred during image analysis."
	summaryFallback = "Sorry, an error occurred during summary generation."
)

type ChatService struct {
	dbStore Store
	gateway AIGateway
}

func NewChatService(db Store, gateway AIGateway) *ChatService {
	return &ChatService{
		dbStore: db,
		gateway: gateway,
	}
}

type JoinResult struct {
	UserID   int64           `json:"userId"`
	Messages []store.Message `json:"messages"`
}

type MessageResult struct {
	UserMessage *store.Message `json:"userMessage"`
	BotMessage  *store.Message `json:"botMessage"`
}

// Join resolves the participant's identity, creating it on first use, and returns
// the most recent history oldest first.
func (s *ChatService) Join(ctx context.Context, username string) (*JoinResult, error) {
	user, err := s.dbStore.FindOrCreateUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user %q: %w", username, err)
	}

	recent, err := s.dbStore.GetRecentMessages(ctx, HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	return &JoinResult{
		UserID:   user.ID,
		Messages: lo.Reverse(recent),
	}, nil
}

// HandleMessage persists the participant's message and, when it mentions the bot,
// persists and returns the bot's reply as well. The user message is stored before
// any AI call, and AI failures become a fallback reply instead of an error.
func (s *ChatService) HandleMessage(ctx context.Context, userID int64, msg OutgoingMessage) (*MessageResult, error) {
	userMessage, err := s.persist(ctx, store.Message{
		Content:  msg.Text,
		ImageURL: msg.ImageURL,
		AuthorID: userID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store user message: %w", err)
	}

	cmd := ParseCommand(msg.Text, msg.ImageURL != "")
	if cmd.Kind == CommandPlain {
		return &MessageResult{UserMessage: userMessage}, nil
	}

	reply, err := s.dispatch(ctx, cmd, msg.ImageURL)
	if err != nil {
		log.Printf("Error generating %s reply for message %s: %v", cmd.Kind, userMessage.ID, err)
		reply = fallbackFor(cmd)
	}

	// The reply is written even if the caller went away during the AI call.
	persistCtx := context.WithoutCancel(ctx)

	botUser, err := s.dbStore.FindOrCreateUser(persistCtx, BotUsername)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bot user: %w", err)
	}

	botMessage, err := s.persist(persistCtx, store.Message{
		Content:  reply,
		AuthorID: botUser.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store bot message: %w", err)
	}

	return &MessageResult{UserMessage: userMessage, BotMessage: botMessage}, nil
}

// dispatch makes exactly one gateway call for a bot-directed command.
func (s *ChatService) dispatch(ctx context.Context, cmd Command, imageURL string) (string, error) {
	switch cmd.Kind {
	case CommandSummary:
		recent, err := s.dbStore.GetRecentMessages(ctx, cmd.Count)
		if err != nil {
			return "", fmt.Errorf("failed to load messages for summary: %w", err)
		}
		return s.gateway.Summarize(ctx, lo.Reverse(recent), cmd.Count)
	case CommandQuestion:
		if cmd.Grounded {
			return s.gateway.GenerateFromImage(ctx, imageURL, cmd.Question)
		}
		return s.gateway.GenerateFromText(ctx, cmd.Question)
	default:
		return "", fmt.Errorf("no reply for %s command", cmd.Kind)
	}
}

func (s *ChatService) persist(ctx context.Context, msg store.Message) (*store.Message, error) {
	if err := s.dbStore.CreateMessage(ctx, &msg); err != nil {
		return nil, err
	}
	return s.dbStore.GetMessage(ctx, msg.ID)
}

func fallbackFor(cmd Command) string {
	switch {
	case cmd.Kind == CommandSummary:
		return summaryFallback
	case cmd.Grounded:
		return imageFallback
	default:
		return textFallback
	}
}
