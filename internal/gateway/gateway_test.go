// ABOUTME: Tests for gateway wiring, lifecycle, health endpoints, and live WebSocket delivery
// ABOUTME: Uses a temp SQLite store, fake providers, httptest servers, and the gorilla dialer

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/huddle-gateway/internal/config"
	"github.com/2389/huddle-gateway/internal/dispatch"
	"github.com/2389/huddle-gateway/internal/presence"
	"github.com/2389/huddle-gateway/internal/store"
)

const (
	testJWTSecret     = "gateway-test-secret-at-least-32b"
	testEncryptionKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
)

// stubProvider implements dispatch.Provider for testing
type stubProvider struct {
	mu    sync.Mutex
	reply string
	err   error
	calls []dispatch.Request
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Complete(ctx context.Context, req dispatch.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	return p.reply, p.err
}

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Path: ":memory:"},
		Auth:     config.AuthConfig{JWTSecret: testJWTSecret},
		Crypto:   config.CryptoConfig{EncryptionKey: testEncryptionKey},
		Bots:     config.BotsConfig{DispatchTimeout: 5 * time.Second},
		Metrics:  config.MetricsConfig{Enabled: true},
	}
}

type testEnv struct {
	gw       *Gateway
	server   *httptest.Server
	provider *stubProvider
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "gateway.db"))
	require.NoError(t, err)

	provider := &stubProvider{reply: "hello from the bot"}
	providers := map[dispatch.Model]dispatch.Provider{}
	for _, m := range dispatch.Models() {
		providers[m] = provider
	}

	gw, err := build(t.Context(), cfg, s, providers, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	server := httptest.NewServer(gw.httpServer.Handler)
	t.Cleanup(func() {
		gw.closeSockets()
		server.Close()
		gw.idempotency.Close()
		_ = s.Close()
	})

	return &testEnv{gw: gw, server: server, provider: provider}
}

func (e *testEnv) token(t *testing.T, identity string) string {
	t.Helper()
	tok, err := e.gw.verifier.Generate(identity, time.Hour)
	require.NoError(t, err)
	return tok
}

// do sends an authenticated JSON request and returns the response with its body read.
func (e *testEnv) do(t *testing.T, identity, method, path string, body any, headers ...string) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.server.URL+path, rdr)
	require.NoError(t, err)
	if identity != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, identity))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (e *testEnv) dial(t *testing.T, identity string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?token=" + e.token(t, identity)
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// readUntil reads frames until one of the wanted type arrives.
func readUntil(t *testing.T, ws *websocket.Conn, eventType string, match func(*presence.Event) bool) *presence.Event {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var ev presence.Event
		require.NoError(t, ws.ReadJSON(&ev))
		if ev.Type == eventType && (match == nil || match(&ev)) {
			return &ev
		}
	}
}

func TestBuild_RejectsBadKeys(t *testing.T) {
	s := store.NewMockStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := testConfig()
	cfg.Crypto.EncryptionKey = "short"
	_, err := build(t.Context(), cfg, pingableMock{s}, nil, logger)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Auth.JWTSecret = "short"
	_, err = build(t.Context(), cfg, pingableMock{s}, nil, logger)
	assert.Error(t, err)
}

type pingableMock struct{ *store.MockStore }

func (pingableMock) Ping(ctx context.Context) error { return nil }

func TestBuild_ProvisionsDefaultBot(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Bots.DefaultAPIKey = "platform-key" })

	resp, body := env.do(t, "alice", http.MethodGet, "/api/bots", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var bots []BotResponse
	require.NoError(t, json.Unmarshal(body, &bots))
	require.Len(t, bots, 1)
	assert.True(t, bots[0].IsDefault)
	assert.Equal(t, "Gemini Assistant", bots[0].Name)
	assert.NotContains(t, string(body), "platform-key")
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, "", http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	resp, body = env.do(t, "", http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ready")
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	env.do(t, "", http.MethodGet, "/health", nil)
	resp, body := env.do(t, "", http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "huddle_http_requests_total")
}

func TestMetricsDisabled(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Metrics.Enabled = false })

	resp, _ := env.do(t, "", http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocket_RequiresToken(t *testing.T) {
	env := newTestEnv(t, nil)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocket_PresenceAndRoomDelivery(t *testing.T) {
	env := newTestEnv(t, nil)

	alice := env.dial(t, "alice")
	readUntil(t, alice, presence.EventPresenceChanged, nil)

	bob := env.dial(t, "bob")
	ev := readUntil(t, alice, presence.EventPresenceChanged, func(ev *presence.Event) bool {
		return len(ev.Online) == 2
	})
	assert.Equal(t, []string{"alice", "bob"}, ev.Online)

	resp, _ := env.do(t, "alice", http.MethodPost, "/api/contacts", MemberRequest{Identity: "bob"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body := env.do(t, "alice", http.MethodPost, "/api/conversations", CreateConversationRequest{Participants: []string{"bob"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var conv ConversationResponse
	require.NoError(t, json.Unmarshal(body, &conv))

	resp, body = env.do(t, "alice", http.MethodPost, "/api/conversations/"+conv.ID+"/messages", SendMessageRequest{Text: "hi bob"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var sent store.Message
	require.NoError(t, json.Unmarshal(body, &sent))

	got := readUntil(t, bob, presence.EventNewMessage, nil)
	require.NotNil(t, got.Message)
	assert.Equal(t, sent.ID, got.Message.ID)
	assert.Equal(t, "hi bob", got.Message.Text)
	assert.Equal(t, conv.ID, got.Message.ConversationID)

	// Sender's own connection sees it too.
	got = readUntil(t, alice, presence.EventNewMessage, nil)
	assert.Equal(t, sent.ID, got.Message.ID)

	// Disconnect drops bob from presence.
	require.NoError(t, bob.Close())
	ev = readUntil(t, alice, presence.EventPresenceChanged, func(ev *presence.Event) bool {
		return len(ev.Online) == 1
	})
	assert.Equal(t, []string{"alice"}, ev.Online)
}

func TestWebSocket_BotReplyReachesAllOwnerConnections(t *testing.T) {
	env := newTestEnv(t, nil)

	phone := env.dial(t, "alice")
	laptop := env.dial(t, "alice")

	resp, body := env.do(t, "alice", http.MethodPost, "/api/bots", CreateBotRequest{Name: "Helper", Model: "gpt-4o", APIKey: "sk-alice"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var bot BotResponse
	require.NoError(t, json.Unmarshal(body, &bot))

	resp, body = env.do(t, "alice", http.MethodPost, "/api/bots/"+bot.ID+"/messages", SendMessageRequest{Text: "ping"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var ex BotExchangeResponse
	require.NoError(t, json.Unmarshal(body, &ex))
	require.NotNil(t, ex.Reply)

	for _, ws := range []*websocket.Conn{phone, laptop} {
		human := readUntil(t, ws, presence.EventNewMessage, nil)
		assert.Equal(t, ex.Message.ID, human.Message.ID)
		reply := readUntil(t, ws, presence.EventNewMessage, nil)
		assert.Equal(t, ex.Reply.ID, reply.Message.ID)
		assert.Equal(t, store.SenderBot, reply.Message.SenderKind)
	}
}

func TestServe_GRPCHealthAndShutdown(t *testing.T) {
	env := newTestEnv(t, nil)

	httpLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	grpcLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- env.gw.serve(ctx, grpcLn, httpLn) }()

	conn, err := grpc.NewClient(grpcLn.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	require.Eventually(t, func() bool {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: healthServiceName})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get("http://" + httpLn.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
