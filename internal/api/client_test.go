package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.study.sync/internal/config"
	"sudooom.study.sync/internal/model"
	apperrors "sudooom.study.sync/pkg/errors"
)

func newTestClient(server *httptest.Server) *Client {
	return NewClient(config.APIConfig{
		BaseURL:   server.URL,
		Timeout:   2 * time.Second,
		PageLimit: 25,
	}, "test-token")
}

func TestListConversations(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/conversations", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode([]model.Conversation{
			{ID: "c1", Kind: model.KindDirect, UpdatedAt: now},
			{ID: "c2", Kind: model.KindGroup, Name: "Study Group", UpdatedAt: now.Add(-time.Hour)},
		})
	}))
	defer server.Close()

	conversations, err := newTestClient(server).ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, conversations, 2)
	assert.Equal(t, "c1", conversations[0].ID)
	assert.Equal(t, "Study Group", conversations[1].Name)
}

func TestMessagesAfter(t *testing.T) {
	watermark := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conversations/c1/messages", r.URL.Path)
		assert.Equal(t, watermark.Format(time.RFC3339Nano), r.URL.Query().Get("after"))
		assert.Equal(t, "25", r.URL.Query().Get("limit"))

		json.NewEncoder(w).Encode([]model.MessageSummary{
			{ID: "m1", SenderID: "u1", Body: "hi", CreatedAt: watermark.Add(time.Second)},
			{ID: "m2", SenderID: "u2", Body: "hey", CreatedAt: watermark.Add(2 * time.Second)},
		})
	}))
	defer server.Close()

	messages, err := newTestClient(server).MessagesAfter(context.Background(), "c1", watermark)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "m1", messages[0].ID)
}

func TestUpdatePin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/conversations/c1/pin", r.URL.Path)

		var body struct {
			IsPinned bool `json:"isPinned"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(t, body.IsPinned)

		now := time.Now().UTC()
		json.NewEncoder(w).Encode(model.Conversation{ID: "c1", IsPinned: true, PinnedAt: &now})
	}))
	defer server.Close()

	conversation, err := newTestClient(server).UpdatePin(context.Background(), "c1", true)
	require.NoError(t, err)
	assert.True(t, conversation.IsPinned)
	assert.NotNil(t, conversation.PinnedAt)
}

func TestUpdatePin_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"error": "not a participant"})
	}))
	defer server.Close()

	_, err := newTestClient(server).UpdatePin(context.Background(), "c1", true)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrPinRejected))
	assert.Contains(t, err.Error(), "not a participant")
}

func TestMessagesAfter_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestClient(server).MessagesAfter(context.Background(), "c1", time.Now())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrRequestFailed))
}
