//go:generate go run go.uber.org/mock/mockgen -source=ports.go -destination=../mocks/mock_ports.go -package=mocks
package core

import (
	"context"

	"gwi.com/botai-chat/internal/store"
)

// Store is the persistence the orchestrators depend on. FindOrCreateUser must be
// atomic under concurrent callers.
type Store interface {
	FindOrCreateUser(ctx context.Context, username string) (*store.User, error)
	CreateMessage(ctx context.Context, msg *store.Message) error
	GetMessage(ctx context.Context, id string) (*store.Message, error)
	GetRecentMessages(ctx context.Context, n int) ([]store.Message, error)
}

// AIGateway produces bot replies. Implementations own their timeouts and report
// every failure as an error.
type AIGateway interface {
	GenerateFromText(ctx context.Context, prompt string) (string, error)
	GenerateFromImage(ctx context.Context, imageURL, prompt string) (string, error)
	Summarize(ctx context.Context, messages []store.Message, count int) (string, error)
}
