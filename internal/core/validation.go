package core

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	ErrEmptyMessage    = errors.New("message must contain text or an image")
	ErrInvalidUsername = errors.New("username is required")
)

var validate = validator.New()

type JoinRequest struct {
	Username string `json:"username" validate:"required,max=64"`
}

// OutgoingMessage is what a participant sends to the room.
type OutgoingMessage struct {
	Text     string `json:"text" validate:"required_without=ImageURL,max=4000"`
	ImageURL string `json:"imageUrl" validate:"omitempty,url"`
}

// ValidateJoin rejects join requests before they reach the orchestrator.
func ValidateJoin(req JoinRequest) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidUsername, err)
	}
	return nil
}

// ValidateMessage rejects empty sends before they reach the orchestrator.
func ValidateMessage(msg OutgoingMessage) error {
	if err := validate.Struct(msg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Tag() == "required_without" {
			return ErrEmptyMessage
		}
		return fmt.Errorf("invalid message: %w", err)
	}
	return nil
}
