package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/adapter/api"
	"marketchat/internal/adapter/api/handler"
	"marketchat/internal/adapter/api/middleware"
	"marketchat/internal/adapter/repository"
	"marketchat/internal/domain/entity"
	"marketchat/internal/infrastructure/auth"
	"marketchat/internal/infrastructure/metrics"
	ws "marketchat/internal/infrastructure/websocket"
	"marketchat/internal/usecase"
	"marketchat/pkg/errors"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type testAPI struct {
	e     *echo.Echo
	authn *auth.Authenticator
	srv   *httptest.Server
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	dir := repository.NewMemoryDirectory()
	dir.PutProduct(&entity.Product{ID: "p1", SellerID: "seller", Title: "Desk"})
	dir.PutUser(&entity.User{ID: "buyer", Username: "bob"})
	dir.PutUser(&entity.User{ID: "seller", Username: "sam"})

	chatRepo := repository.NewMemoryChatRepository()
	var chatUseCase *usecase.ChatUseCase
	gateway := ws.NewManager(func(ctx context.Context, chatID, userID string) (bool, error) {
		return chatUseCase.IsParticipant(ctx, chatID, userID)
	})
	gateway.Start(ctx)
	chatUseCase = usecase.NewChatUseCase(chatRepo, dir.Users(), dir.Products(), gateway)

	authn := auth.NewAuthenticator("test-secret", "marketchat", time.Hour)
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	e := echo.New()
	e.Validator = api.NewValidator()
	e.Use(middleware.Metrics(m, "/metrics", "/ws"))

	handler.Setup(chatUseCase, gateway, authn)
	authMiddleware := middleware.NewAuthMiddleware(authn)
	Setup(e, authMiddleware, handler.NewWebSocketHandler(gateway, authMiddleware), Options{
		Environment: "development",
		Gatherer:    reg,
	})

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return &testAPI{e: e, authn: authn, srv: srv}
}

func (a *testAPI) do(t *testing.T, method, path, user, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if user != "" {
		token, err := a.authn.GenerateToken(user)
		require.NoError(t, err)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec.Code, env
}

func TestChatRoutesRequireAuth(t *testing.T) {
	a := newTestAPI(t)

	code, env := a.do(t, http.MethodGet, "/v1/chats", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, errors.CodeUnauthorized, env.Error.Code)
}

func TestChatFlowOverHTTP(t *testing.T) {
	a := newTestAPI(t)

	code, env := a.do(t, http.MethodPost, "/v1/chats", "buyer", `{"product_id":"p1"}`)
	require.Equal(t, http.StatusCreated, code)
	var chat struct {
		ID       string `json:"id"`
		SellerID string `json:"seller_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &chat))
	assert.Equal(t, "seller", chat.SellerID)

	code, env = a.do(t, http.MethodPost, "/v1/chats", "seller", `{"product_id":"p1"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, errors.CodeSelfChat, env.Error.Code)

	code, env = a.do(t, http.MethodPost, "/v1/chats/"+chat.ID+"/messages", "buyer", `{"text":"   "}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, errors.CodeValidation, env.Error.Code)

	code, _ = a.do(t, http.MethodPost, "/v1/chats/"+chat.ID+"/messages", "buyer", `{"text":"Is this available?"}`)
	require.Equal(t, http.StatusCreated, code)

	code, env = a.do(t, http.MethodPost, "/v1/chats/"+chat.ID+"/messages", "intruder", `{"text":"hi"}`)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, errors.CodeAccessDenied, env.Error.Code)

	code, env = a.do(t, http.MethodGet, "/v1/chats", "seller", "")
	require.Equal(t, http.StatusOK, code)
	var chats []struct {
		ID     string `json:"id"`
		Unread int    `json:"unread"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &chats))
	require.Len(t, chats, 1)
	assert.Equal(t, 1, chats[0].Unread)

	code, env = a.do(t, http.MethodGet, "/v1/chats/"+chat.ID+"/messages", "seller", "")
	require.Equal(t, http.StatusOK, code)
	var history struct {
		Messages []struct {
			Text string `json:"text"`
			Read bool   `json:"read"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &history))
	require.Len(t, history.Messages, 1)
	assert.False(t, history.Messages[0].Read)

	code, env = a.do(t, http.MethodPost, "/v1/chats/"+chat.ID+"/read", "seller", "")
	require.Equal(t, http.StatusOK, code)
	var read usecase.ReadResult
	require.NoError(t, json.Unmarshal(env.Data, &read))
	assert.Equal(t, 1, read.Flipped)

	code, _ = a.do(t, http.MethodGet, "/v1/chats/missing/messages", "seller", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDevTokenAndHealth(t *testing.T) {
	a := newTestAPI(t)

	code, env := a.do(t, http.MethodPost, "/v1/dev/token", "", `{"user_id":"buyer"}`)
	require.Equal(t, http.StatusOK, code)
	var tok map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &tok))
	uid, err := a.authn.Resolve(context.Background(), tok["token"])
	require.NoError(t, err)
	assert.Equal(t, "buyer", uid)

	code, _ = a.do(t, http.MethodPost, "/v1/dev/token", "", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"connections"`)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "marketchat_request_duration_seconds")
}

func TestWebSocketHandshake(t *testing.T) {
	a := newTestAPI(t)
	url := "ws" + strings.TrimPrefix(a.srv.URL, "http") + "/ws"

	_, resp, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = gorillaws.DefaultDialer.Dial(url+"?token=forged", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := a.authn.GenerateToken("buyer")
	require.NoError(t, err)
	conn, _, err := gorillaws.DefaultDialer.Dial(url+"?token="+token, nil)
	require.NoError(t, err)
	defer conn.Close()

	frame, err := ws.Encode(entity.EventPing, "", nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(gorillaws.TextMessage, frame))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := ws.Decode(reply)
	require.NoError(t, err)
	assert.Equal(t, entity.EventPong, msg.Type)
}
