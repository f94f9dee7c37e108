package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"gwi.com/botai-chat/internal/core"
	"gwi.com/botai-chat/internal/mocks"
	"gwi.com/botai-chat/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *mocks.MockAIGateway) {
	t.Helper()
	ctrl := gomock.NewController(t)
	gateway := mocks.NewMockAIGateway(ctrl)

	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(NewRouter(NewAPIHandler(core.NewChatService(db, gateway), hub, []string{"*"})))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		_ = db.Close()
	})
	return srv, gateway
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func emit(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Envelope{Event: event, Data: data}))
}

func receive(t *testing.T, conn *websocket.Conn, into any) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	if into != nil {
		require.NoError(t, json.Unmarshal(env.Data, into))
	}
	return env.Event
}

func joinRoom(t *testing.T, conn *websocket.Conn, username string) core.JoinResult {
	t.Helper()
	emit(t, conn, EventJoin, core.JoinRequest{Username: username})
	var res core.JoinResult
	require.Equal(t, EventHistory, receive(t, conn, &res))
	return res
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRESTJoinAndPost(t *testing.T) {
	srv, gateway := newTestServer(t)

	post := func(path string, body any) *http.Response {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(data))
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	t.Run("should reject an empty username", func(t *testing.T) {
		resp := post("/api/join", map[string]string{"username": ""})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("should join and post a bot question", func(t *testing.T) {
		req := require.New(t)
		resp := post("/api/join", map[string]string{"username": "alice"})
		req.Equal(http.StatusOK, resp.StatusCode)
		var joined core.JoinResult
		req.NoError(json.NewDecoder(resp.Body).Decode(&joined))
		req.NotZero(joined.UserID)

		gateway.EXPECT().GenerateFromText(gomock.Any(), "hi").Return("hello alice", nil).Times(1)
		resp = post("/api/messages", map[string]any{"userId": joined.UserID, "text": "@BotAI hi"})
		req.Equal(http.StatusCreated, resp.StatusCode)

		var res core.MessageResult
		req.NoError(json.NewDecoder(resp.Body).Decode(&res))
		req.Equal("@BotAI hi", res.UserMessage.Content)
		req.Equal("alice", res.UserMessage.Author.Username)
		req.Equal("hello alice", res.BotMessage.Content)
		req.Equal(core.BotUsername, res.BotMessage.Author.Username)
	})

	t.Run("should reject an empty send", func(t *testing.T) {
		resp := post("/api/messages", map[string]any{"userId": 1, "text": ""})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestWebsocketRoom(t *testing.T) {
	t.Run("should broadcast the user message before the bot reply", func(t *testing.T) {
		req := require.New(t)
		srv, gateway := newTestServer(t)
		alice := dial(t, srv)
		bob := dial(t, srv)
		joinRoom(t, alice, "alice")
		joinRoom(t, bob, "bob")

		gateway.EXPECT().GenerateFromText(gomock.Any(), "hello").Return("hi there", nil).Times(1)
		emit(t, alice, EventMessage, core.OutgoingMessage{Text: "@BotAI hello"})

		for _, conn := range []*websocket.Conn{alice, bob} {
			var first, second store.Message
			req.Equal(EventMessage, receive(t, conn, &first))
			req.Equal(EventMessage, receive(t, conn, &second))
			req.Equal("@BotAI hello", first.Content)
			req.Equal("alice", first.Author.Username)
			req.Equal("hi there", second.Content)
			req.Equal(core.BotUsername, second.Author.Username)
		}
	})

	t.Run("should replay history to a new participant", func(t *testing.T) {
		req := require.New(t)
		srv, _ := newTestServer(t)
		alice := dial(t, srv)
		joinRoom(t, alice, "alice")
		emit(t, alice, EventMessage, core.OutgoingMessage{Text: "first"})
		receive(t, alice, nil)
		emit(t, alice, EventMessage, core.OutgoingMessage{Text: "second"})
		receive(t, alice, nil)

		carol := dial(t, srv)
		history := joinRoom(t, carol, "carol")
		req.Len(history.Messages, 2)
		req.Equal("first", history.Messages[0].Content)
		req.Equal("second", history.Messages[1].Content)
	})

	t.Run("should accept a bare username on join", func(t *testing.T) {
		srv, _ := newTestServer(t)
		conn := dial(t, srv)
		emit(t, conn, EventJoin, "dave")
		var res core.JoinResult
		require.Equal(t, EventHistory, receive(t, conn, &res))
		require.NotZero(t, res.UserID)
	})

	t.Run("should reject messages before join", func(t *testing.T) {
		srv, _ := newTestServer(t)
		conn := dial(t, srv)
		emit(t, conn, EventMessage, core.OutgoingMessage{Text: "hello"})

		var payload errorPayload
		require.Equal(t, EventError, receive(t, conn, &payload))
		require.Contains(t, payload.Message, "join")
	})

	t.Run("should reject an empty send", func(t *testing.T) {
		srv, _ := newTestServer(t)
		conn := dial(t, srv)
		joinRoom(t, conn, "erin")
		emit(t, conn, EventMessage, core.OutgoingMessage{})

		var payload errorPayload
		require.Equal(t, EventError, receive(t, conn, &payload))
		require.Equal(t, core.ErrEmptyMessage.Error(), payload.Message)
	})

	t.Run("should relay typing to other participants only", func(t *testing.T) {
		req := require.New(t)
		srv, _ := newTestServer(t)
		alice := dial(t, srv)
		bob := dial(t, srv)
		joinRoom(t, alice, "alice")
		joinRoom(t, bob, "bob")

		emit(t, alice, EventTyping, nil)
		var typing typingPayload
		req.Equal(EventTyping, receive(t, bob, &typing))
		req.Equal("alice", typing.Username)

		// alice's next frame is her own message, not her typing event
		emit(t, alice, EventMessage, core.OutgoingMessage{Text: "done typing"})
		var msg store.Message
		req.Equal(EventMessage, receive(t, alice, &msg))
		req.Equal("done typing", msg.Content)
	})

	t.Run("should not broadcast to sockets that have not joined", func(t *testing.T) {
		req := require.New(t)
		srv, _ := newTestServer(t)
		lurker := dial(t, srv)
		alice := dial(t, srv)
		joinRoom(t, alice, "alice")

		emit(t, alice, EventMessage, core.OutgoingMessage{Text: "hello room"})
		var msg store.Message
		req.Equal(EventMessage, receive(t, alice, &msg))

		// the broadcast has already been fanned out, so the lurker's first frame is its own error
		emit(t, lurker, EventMessage, core.OutgoingMessage{Text: "let me in"})
		var payload errorPayload
		req.Equal(EventError, receive(t, lurker, &payload))
		req.Contains(payload.Message, "join")
	})

	t.Run("should answer pings while an AI reply is pending", func(t *testing.T) {
		req := require.New(t)
		srv, gateway := newTestServer(t)
		alice := dial(t, srv)
		joinRoom(t, alice, "alice")

		release := make(chan struct{})
		var once sync.Once
		alice.SetPongHandler(func(string) error {
			once.Do(func() { close(release) })
			return nil
		})

		gateway.EXPECT().
			GenerateFromText(gomock.Any(), "slow question").
			DoAndReturn(func(_ context.Context, _ string) (string, error) {
				select {
				case <-release:
					return "slow answer", nil
				case <-time.After(5 * time.Second):
					return "", context.DeadlineExceeded
				}
			}).
			Times(1)

		emit(t, alice, EventMessage, core.OutgoingMessage{Text: "@BotAI slow question"})
		req.NoError(alice.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(time.Second)))

		var first, second store.Message
		req.Equal(EventMessage, receive(t, alice, &first))
		req.Equal(EventMessage, receive(t, alice, &second))
		req.Equal("@BotAI slow question", first.Content)
		req.Equal("slow answer", second.Content)
	})
}
