package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/pkg/errors"
)

func TestSendMessageDecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chats/c1/messages", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["text"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"success":true,"data":{"id":"m1","chat_id":"c1","sender_id":"u1","text":"hello","read":false,"sender":{"id":"u1","name":"Bob"}},"timestamp":"2026-01-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "tok")
	msg, err := c.SendMessage(context.Background(), "c1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "hello", msg.Text)
	require.NotNil(t, msg.Sender)
	assert.Equal(t, "Bob", msg.Sender.Name)
}

func TestErrorEnvelopeBecomesAppError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"success":false,"error":{"code":"ACCESS_DENIED","message":"not a participant"},"timestamp":"2026-01-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "tok").History(context.Background(), "c1")
	require.Error(t, err)

	appErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeAccessDenied, appErr.Code)
	assert.Equal(t, http.StatusForbidden, appErr.Status)
	assert.False(t, appErr.Retryable)
}

func TestRetryableErrorsSurvive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"success":false,"error":{"code":"UNAVAILABLE","message":"store down","retryable":true}}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "tok").MarkAsRead(context.Background(), "c1")
	assert.True(t, errors.IsRetryable(err))
}

func TestUnreachableServerIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, "tok").ListChats(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeUnavailable))
}

func TestListChatsAndStartChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`{"success":true,"data":[{"id":"c2","product_id":"p2","unread":3},{"id":"c1","product_id":"p1","unread":0}]}`))
		case http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"success":true,"data":{"id":"c1","buyer_id":"b","seller_id":"s","product_id":"p1","unread":0,"product":{"id":"p1","title":"Camera","price":120}}}`))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")

	chats, err := c.ListChats(context.Background())
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, "c2", chats[0].ID)
	assert.Equal(t, 3, chats[0].Unread)

	chat, err := c.StartChat(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "s", chat.SellerID)
	require.NotNil(t, chat.Product)
	assert.Equal(t, "Camera", chat.Product.Title)
}

func TestDevTokenAndSubject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/dev/token", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))

		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "bob"}).SignedString([]byte("k"))
		require.NoError(t, err)
		w.Write([]byte(`{"success":true,"data":{"token":"` + signed + `","user_id":"bob"}}`))
	}))
	defer srv.Close()

	token, err := NewClient(srv.URL, "").DevToken(context.Background(), "bob")
	require.NoError(t, err)

	subject, err := SubjectFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, "bob", subject)

	_, err = SubjectFromToken("not-a-token")
	assert.Error(t, err)
}

func TestReadsRetryWritesDoNot(t *testing.T) {
	var gets, posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			if gets.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"success":false,"error":{"code":"UNAVAILABLE","message":"busy","retryable":true}}`))
				return
			}
			w.Write([]byte(`{"success":true,"data":[]}`))
			return
		}
		posts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"success":false,"error":{"code":"UNAVAILABLE","message":"busy","retryable":true}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")

	chats, err := c.ListChats(context.Background())
	require.NoError(t, err)
	assert.Empty(t, chats)
	assert.Equal(t, int32(2), gets.Load())

	_, err = c.SendMessage(context.Background(), "c1", "once")
	require.Error(t, err)
	assert.Equal(t, int32(1), posts.Load(), "a send is never replayed")
}
