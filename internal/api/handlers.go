package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"gwi.com/botai-chat/internal/core"
)

// ChatService is the orchestration the transport hands events to.
type ChatService interface {
	Join(ctx context.Context, username string) (*core.JoinResult, error)
	HandleMessage(ctx context.Context, userID int64, msg core.OutgoingMessage) (*core.MessageResult, error)
}

type APIHandler struct {
	chatService ChatService
	hub         *Hub
	upgrader    websocket.Upgrader
}

func NewAPIHandler(cs ChatService, hub *Hub, allowedOrigins []string) *APIHandler {
	return &APIHandler{
		chatService: cs,
		hub:         hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || lo.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		return lo.Contains(allowed, r.Header.Get("Origin"))
	}
}

func (h *APIHandler) JoinHandler(w http.ResponseWriter, r *http.Request) {
	var req core.JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := core.ValidateJoin(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.chatService.Join(r.Context(), req.Username)
	if err != nil {
		log.Printf("Error joining user %s: %v", req.Username, err)
		http.Error(w, "Failed to join chat", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type PostMessageRequest struct {
	UserID int64 `json:"userId"`
	core.OutgoingMessage
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.UserID <= 0 {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	if err := core.ValidateMessage(req.OutgoingMessage); err != nil {
		if errors.Is(err, core.ErrEmptyMessage) {
			http.Error(w, "Message content cannot be empty", http.StatusBadRequest)
		} else {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}

	res, err := h.chatService.HandleMessage(r.Context(), req.UserID, req.OutgoingMessage)
	if err != nil {
		log.Printf("Error posting message for user %d: %v", req.UserID, err)
		http.Error(w, "Failed to post message", http.StatusInternalServerError)
		return
	}

	broadcastResult(h.hub, res)
	writeJSON(w, http.StatusCreated, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
