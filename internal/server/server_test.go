package server

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kingsgate/stakechess/internal/broker"
	"github.com/kingsgate/stakechess/internal/config"
	"github.com/kingsgate/stakechess/internal/game"
	"github.com/kingsgate/stakechess/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var testWebSocket = config.WebSocketConfig{
	WriteWait:  time.Second,
	PongWait:   5 * time.Second,
	SendBuffer: 64,
	ReadLimit:  4096,
}

type message struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	OK        bool            `json:"ok"`
	Code      string          `json:"code"`
	Error     string          `json:"error"`
	Payload   json.RawMessage `json:"payload"`
}

type harness struct {
	broker *broker.Broker
	http   *httptest.Server
	wsURL  string
}

func newHarness(t *testing.T, wsCfg config.WebSocketConfig, factory game.Factory) *harness {
	t.Helper()
	return newHarnessWith(t, wsCfg, broker.Options{Adjudicators: factory})
}

func newHarnessWith(t *testing.T, wsCfg config.WebSocketConfig, opts broker.Options) *harness {
	t.Helper()

	logger := zaptest.NewLogger(t)
	opts.Economy = session.Economy{
		StartingWallet: 150,
		FeeFraction:    0.05,
		MinStake:       20,
		MaxStake:       50,
	}
	b := broker.New(opts, logger)

	srv := New(wsCfg, b, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &harness{
		broker: b,
		http:   ts,
		wsURL:  "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(h.wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType, requestID string, payload any) {
	t.Helper()
	env := map[string]any{"type": msgType, "requestId": requestID}
	if payload != nil {
		env["payload"] = payload
	}
	require.NoError(t, conn.WriteJSON(env))
}

// readUntil reads messages until one of msgType arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg message
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", msgType)
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Type == msgType {
			return msg
		}
	}
}

// readAck reads until the ack for requestID arrives. Acks for other
// requests are skipped.
func readAck(t *testing.T, conn *websocket.Conn, requestID string) message {
	t.Helper()
	for {
		msg := readUntil(t, conn, MsgAck)
		if msg.RequestID == requestID {
			return msg
		}
	}
}

// matchPair connects two players and consumes everything up to their
// request_match acks, which arrive after the paired event.
func matchPair(t *testing.T, h *harness) (*websocket.Conn, *websocket.Conn) {
	t.Helper()

	white := h.dial(t)
	send(t, white, MsgRequestMatch, "m1", RequestMatchPayload{DisplayName: "Alice"})
	readUntil(t, white, "waiting")
	require.True(t, readAck(t, white, "m1").OK)

	black := h.dial(t)
	send(t, black, MsgRequestMatch, "m2", RequestMatchPayload{DisplayName: "Bob"})

	readUntil(t, white, "paired")
	readUntil(t, black, "paired")
	require.True(t, readAck(t, black, "m2").OK)
	return white, black
}

func TestHealthzReportsBrokerState(t *testing.T) {
	h := newHarness(t, testWebSocket, game.ChessFactory)

	resp, err := http.Get(h.http.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var report HealthReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, HealthReport{Status: "ok"}, report)
}

func TestMatchAndMove(t *testing.T) {
	h := newHarness(t, testWebSocket, game.ChessFactory)
	white, black := matchPair(t, h)
	assert.Equal(t, 1, h.broker.SessionCount())

	send(t, white, MsgSubmitMove, "r1", SubmitMovePayload{From: "e2", To: "e4"})
	ack := readAck(t, white, "r1")
	assert.Equal(t, "r1", ack.RequestID)
	assert.True(t, ack.OK)
	assert.Empty(t, ack.Code)

	state := readUntil(t, black, "state")
	var payload struct {
		Snapshot struct {
			SideToMove string `json:"sideToMove"`
			Ply        int    `json:"ply"`
		} `json:"snapshot"`
	}
	require.NoError(t, json.Unmarshal(state.Payload, &payload))
	assert.Equal(t, "black", payload.Snapshot.SideToMove)
	assert.Equal(t, 1, payload.Snapshot.Ply)
}

func TestSyncStateSendsSnapshotToRequester(t *testing.T) {
	h := newHarness(t, testWebSocket, game.ChessFactory)

	loner := h.dial(t)
	send(t, loner, MsgSyncState, "y0", nil)
	assert.Equal(t, "NOT_IN_SESSION", readAck(t, loner, "y0").Code)

	white, black := matchPair(t, h)
	send(t, white, MsgSubmitMove, "r1", SubmitMovePayload{From: "e2", To: "e4"})
	require.True(t, readAck(t, white, "r1").OK)
	readUntil(t, black, "state")

	send(t, black, MsgSyncState, "y1", nil)
	state := readUntil(t, black, "state")
	var payload struct {
		Snapshot struct {
			SideToMove string `json:"sideToMove"`
			Ply        int    `json:"ply"`
		} `json:"snapshot"`
	}
	require.NoError(t, json.Unmarshal(state.Payload, &payload))
	assert.Equal(t, "black", payload.Snapshot.SideToMove)
	assert.Equal(t, 1, payload.Snapshot.Ply)
	assert.True(t, readAck(t, black, "y1").OK)
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestReplayEndpoint(t *testing.T) {
	recorder := game.NewReplayRecorder(zaptest.NewLogger(t), t.TempDir())
	h := newHarnessWith(t, testWebSocket, broker.Options{
		Adjudicators: game.ChessFactory,
		Recorder:     recorder,
		NewID:        func() string { return "game-1" },
	})
	white, _ := matchPair(t, h)

	send(t, white, MsgSubmitMove, "r1", SubmitMovePayload{From: "e2", To: "e4"})
	require.True(t, readAck(t, white, "r1").OK)

	var health HealthReport
	require.Equal(t, http.StatusOK, getJSON(t, h.http.URL+"/healthz", &health))
	assert.Equal(t, 1, health.Recording)

	var report ReplayReport
	require.Equal(t, http.StatusOK, getJSON(t, h.http.URL+"/replays/game-1", &report))
	assert.Equal(t, "game-1", report.SessionID)
	assert.True(t, report.Live)
	assert.Equal(t, 1, report.Plies)
	require.Len(t, report.Frames, 1)
	assert.Equal(t, game.White, report.Frames[0].Side)
	assert.Equal(t, "e2", report.Frames[0].From)
	assert.Equal(t, "e4", report.Frames[0].To)
	assert.Equal(t, report.Frames[0].Position, report.Position)

	var frame game.Frame
	require.Equal(t, http.StatusOK, getJSON(t, h.http.URL+"/replays/game-1?ply=1", &frame))
	assert.Equal(t, 1, frame.Ply)
	assert.NotEmpty(t, frame.Position)

	assert.Equal(t, http.StatusNotFound, getJSON(t, h.http.URL+"/replays/game-1?ply=2", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, h.http.URL+"/replays/game-1?ply=last", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, h.http.URL+"/replays/missing", nil))

	// Leaving ends the session and archives its replay.
	require.NoError(t, white.Close())
	require.Eventually(t, func() bool {
		report = ReplayReport{}
		return getJSON(t, h.http.URL+"/replays/game-1", &report) == http.StatusOK && !report.Live
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, report.Plies)
}

func TestFailedRequestsAreAcknowledged(t *testing.T) {
	h := newHarness(t, testWebSocket, game.ChessFactory)

	loner := h.dial(t)
	send(t, loner, MsgOfferDraw, "r1", nil)
	ack := readAck(t, loner, "r1")
	assert.False(t, ack.OK)
	assert.Equal(t, "NOT_IN_SESSION", ack.Code)
	assert.Equal(t, "you are not in a game", ack.Error)

	white, black := matchPair(t, h)

	send(t, black, MsgSubmitMove, "r2", SubmitMovePayload{From: "e7", To: "e5"})
	ack = readAck(t, black, "r2")
	assert.Equal(t, "WRONG_TURN", ack.Code)

	send(t, white, MsgSubmitMove, "r3", SubmitMovePayload{From: "e2", To: "e5"})
	ack = readAck(t, white, "r3")
	assert.Equal(t, "INVALID_MOVE", ack.Code)

	send(t, white, MsgOfferStake, "r4", map[string]any{"amount": 25.5})
	ack = readAck(t, white, "r4")
	assert.Equal(t, "INVALID_STAKE_AMOUNT", ack.Code)

	send(t, white, MsgOfferStake, "r5", map[string]any{"amount": 10})
	ack = readAck(t, white, "r5")
	assert.Equal(t, "INVALID_STAKE_AMOUNT", ack.Code)
	assert.Contains(t, ack.Error, "between 20 and 50")
}

func TestStakeOverWebsocket(t *testing.T) {
	h := newHarness(t, testWebSocket, game.ChessFactory)
	white, black := matchPair(t, h)

	send(t, white, MsgOfferStake, "s1", map[string]any{"amount": "30"})
	assert.True(t, readAck(t, white, "s1").OK)

	offered := readUntil(t, black, "stake_offered")
	var payload session.OfferPayload
	require.NoError(t, json.Unmarshal(offered.Payload, &payload))
	assert.Equal(t, "Alice", payload.ByName)
	assert.Equal(t, 30, payload.Amount)

	send(t, black, MsgRespondStake, "s2", RespondPayload{Accept: true})
	assert.True(t, readAck(t, black, "s2").OK)

	state := readUntil(t, white, "state")
	var view struct {
		Snapshot struct {
			Players map[string]struct {
				Wallet int `json:"wallet"`
			} `json:"players"`
			Stake struct {
				Active *struct {
					Pot int `json:"pot"`
				} `json:"active"`
			} `json:"stake"`
		} `json:"snapshot"`
	}
	require.NoError(t, json.Unmarshal(state.Payload, &view))
	// The first state after the ack may still be the offer broadcast.
	for view.Snapshot.Stake.Active == nil {
		state = readUntil(t, white, "state")
		require.NoError(t, json.Unmarshal(state.Payload, &view))
	}
	assert.Equal(t, 60, view.Snapshot.Stake.Active.Pot)
	assert.Equal(t, 120, view.Snapshot.Players["white"].Wallet)
	assert.Equal(t, 120, view.Snapshot.Players["black"].Wallet)
}

func TestMalformedEnvelopes(t *testing.T) {
	h := newHarness(t, testWebSocket, game.ChessFactory)
	conn := h.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	ack := readAck(t, conn, "")
	assert.Equal(t, string(CodeBadRequest), ack.Code)

	send(t, conn, "teleport", "r1", nil)
	ack = readAck(t, conn, "r1")
	assert.Equal(t, "r1", ack.RequestID)
	assert.Equal(t, string(CodeBadRequest), ack.Code)

	send(t, conn, MsgRespondDraw, "r2", "yes")
	ack = readAck(t, conn, "r2")
	assert.Equal(t, string(CodeBadRequest), ack.Code)
}

func TestChatEchoesOutsideSession(t *testing.T) {
	h := newHarness(t, testWebSocket, game.ChessFactory)
	conn := h.dial(t)

	send(t, conn, MsgChat, "", ChatPayload{DisplayName: "Alice", Text: "anyone?"})
	msg := readUntil(t, conn, "chat")

	var payload session.ChatPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "Alice", payload.DisplayName)
	assert.Equal(t, "anyone?", payload.Text)
}

func TestDisconnectNotifiesOpponent(t *testing.T) {
	h := newHarness(t, testWebSocket, game.ChessFactory)
	white, black := matchPair(t, h)

	require.NoError(t, white.Close())

	readUntil(t, black, "opponent_departed")
	assert.Eventually(t, func() bool { return h.broker.SessionCount() == 0 }, 3*time.Second, 10*time.Millisecond)

	send(t, black, MsgOfferDraw, "r1", nil)
	assert.Equal(t, "NOT_IN_SESSION", readAck(t, black, "r1").Code)
}

func TestDisconnectWhileWaitingClearsQueue(t *testing.T) {
	h := newHarness(t, testWebSocket, game.ChessFactory)
	conn := h.dial(t)
	send(t, conn, MsgRequestMatch, "m1", RequestMatchPayload{DisplayName: "Alice"})
	readUntil(t, conn, "waiting")
	require.True(t, h.broker.Waiting())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return !h.broker.Waiting() }, 3*time.Second, 10*time.Millisecond)
}

type panickingAdjudicator struct {
	game.Adjudicator
}

func (panickingAdjudicator) Apply(game.Move) error {
	panic("rules engine exploded")
}

func TestPanicInMoveIsReportedAsInvalidMove(t *testing.T) {
	factory := func() game.Adjudicator {
		return panickingAdjudicator{Adjudicator: game.NewChessAdjudicator()}
	}
	h := newHarness(t, testWebSocket, factory)
	white, _ := matchPair(t, h)

	send(t, white, MsgSubmitMove, "r1", SubmitMovePayload{From: "e2", To: "e4"})
	ack := readAck(t, white, "r1")
	assert.False(t, ack.OK)
	assert.Equal(t, "INVALID_MOVE", ack.Code)

	// The session lock was released and nothing changed.
	send(t, white, MsgOfferDraw, "r2", nil)
	assert.True(t, readAck(t, white, "r2").OK)
}

func TestOriginAllowList(t *testing.T) {
	cfg := testWebSocket
	cfg.AllowedOrigins = []string{"https://play.example"}
	h := newHarness(t, cfg, game.ChessFactory)

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(h.wsURL, header)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}

	header.Set("Origin", "https://play.example")
	conn, _, err := websocket.DefaultDialer.Dial(h.wsURL, header)
	require.NoError(t, err)
	conn.Close()
}

func TestHealthServerReportsServing(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	hs := NewHealthServer(zaptest.NewLogger(t))
	serveErr := make(chan error, 1)
	go func() { serveErr <- hs.Serve(lis) }()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	ctx := t.Context()
	for _, service := range []string{"", HealthServiceName} {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
	}

	hs.Shutdown()
	select {
	case err := <-serveErr:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("health server did not stop")
	}
}
