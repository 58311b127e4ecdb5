package network

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"battlegate/internal/match"
	"battlegate/internal/room"
	"battlegate/internal/sim"
	"battlegate/pkg/config"
	"battlegate/pkg/protocol"
)

// newTestServer spins up a full controller behind an httptest server.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := config.Default()
	registry := room.NewRegistry(cfg.Match.IdleTimeout)
	controller := NewController(cfg, sim.NewAdapter(), registry, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/battle", controller.HandleWebSocket)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	t.Cleanup(controller.Shutdown)
	return srv
}

// dial connects a websocket client and consumes the connection banner.
func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/battle"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", url, err)
	}
	t.Cleanup(func() { ws.Close() })

	frame := readFrame(t, ws, 2*time.Second)
	if string(frame) != protocol.StatusConnected {
		t.Fatalf("Expected connection banner, got %q", frame)
	}
	return ws
}

func sendEnvelope(t *testing.T, ws *websocket.Conn, typ protocol.EnvelopeType, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(protocol.Envelope{Type: typ, Payload: payload})
	if err != nil {
		t.Fatalf("Failed to marshal envelope: %v", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("Failed to write envelope: %v", err)
	}
}

func readFrame(t *testing.T, ws *websocket.Conn, timeout time.Duration) []byte {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	return data
}

// waitForEnvelope reads frames until one is an envelope of the wanted
// type, skipping protocol lines and other envelopes.
func waitForEnvelope(t *testing.T, ws *websocket.Conn, typ protocol.EnvelopeType, timeout time.Duration) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		frame := readFrame(t, ws, time.Until(deadline))
		if len(frame) == 0 || frame[0] != '{' {
			continue
		}
		var env struct {
			Type    protocol.EnvelopeType  `json:"type"`
			Payload map[string]interface{} `json:"payload"`
		}
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("Unparseable envelope %q: %v", frame, err)
		}
		if env.Type == typ {
			return env.Payload
		}
	}
	t.Fatalf("Timed out waiting for %s envelope", typ)
	return nil
}

// waitForLine reads frames until a protocol line with the given prefix
// arrives.
func waitForLine(t *testing.T, ws *websocket.Conn, prefix string, timeout time.Duration) string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		frame := readFrame(t, ws, time.Until(deadline))
		if len(frame) > 0 && frame[0] == '|' && strings.HasPrefix(string(frame), prefix) {
			return string(frame)
		}
	}
	t.Fatalf("Timed out waiting for line %q", prefix)
	return ""
}

func clientTeam(species string, moves ...string) protocol.Team {
	return protocol.Team{{Species: species, Moves: moves, Level: 50}}
}

// TestCreateAndJoinRoom tests the pre-match room handshake
func TestCreateAndJoinRoom(t *testing.T) {
	srv := newTestServer(t)

	c1 := dial(t, srv)
	sendEnvelope(t, c1, protocol.TypeCreateRoom, nil)
	created := waitForEnvelope(t, c1, protocol.TypeRoomCreated, 2*time.Second)
	roomID, _ := created["roomID"].(string)
	if roomID == "" {
		t.Fatal("Expected a room ID in room-created")
	}

	c2 := dial(t, srv)
	sendEnvelope(t, c2, protocol.TypeJoinRoom, protocol.JoinRoomPayload{RoomID: roomID})
	update := waitForEnvelope(t, c2, protocol.TypeRoomUpdate, 2*time.Second)
	if update["status"] != string(protocol.StatusWaiting) {
		t.Errorf("Expected waiting status, got %v", update["status"])
	}

	// The creator sees the join too
	waitForEnvelope(t, c1, protocol.TypeRoomUpdate, 2*time.Second)
}

// TestJoinUnknownRoom tests the room-not-found error path
func TestJoinUnknownRoom(t *testing.T) {
	srv := newTestServer(t)

	c := dial(t, srv)
	sendEnvelope(t, c, protocol.TypeJoinRoom, protocol.JoinRoomPayload{RoomID: "NOSUCHROOM"})
	errPayload := waitForEnvelope(t, c, protocol.TypeError, 2*time.Second)
	msg, _ := errPayload["message"].(string)
	if !strings.Contains(msg, "not found") {
		t.Errorf("Expected a not-found error, got %q", msg)
	}
}

// TestUnknownEnvelopeIgnored tests that junk frames are dropped without
// killing the connection
func TestUnknownEnvelopeIgnored(t *testing.T) {
	srv := newTestServer(t)

	c := dial(t, srv)
	c.WriteMessage(websocket.TextMessage, []byte("this is not json"))
	c.WriteMessage(websocket.TextMessage, []byte(`{"type":"no-such-type"}`))

	// The connection still works
	sendEnvelope(t, c, protocol.TypeCreateRoom, nil)
	waitForEnvelope(t, c, protocol.TypeRoomCreated, 2*time.Second)
}

func startPvPMatch(t *testing.T, srv *httptest.Server) (c1, c2 *websocket.Conn, roomID string) {
	t.Helper()

	c1 = dial(t, srv)
	sendEnvelope(t, c1, protocol.TypeCreateRoom, nil)
	created := waitForEnvelope(t, c1, protocol.TypeRoomCreated, 2*time.Second)
	roomID, _ = created["roomID"].(string)

	c2 = dial(t, srv)
	sendEnvelope(t, c2, protocol.TypeJoinRoom, protocol.JoinRoomPayload{RoomID: roomID})
	waitForEnvelope(t, c2, protocol.TypeRoomUpdate, 2*time.Second)

	seed := int64(5150)
	sendEnvelope(t, c1, protocol.TypeStart, protocol.StartPayload{
		Mode: protocol.ModePvP, RoomID: roomID, Seed: &seed,
		Team: clientTeam("Pikachu", "Thunderbolt", "Quick Attack"),
	})
	sendEnvelope(t, c2, protocol.TypeStart, protocol.StartPayload{
		Mode: protocol.ModePvP, RoomID: roomID,
		Team: clientTeam("Gyarados", "Waterfall", "Crunch"),
	})

	waitForEnvelope(t, c1, protocol.TypeBattleStarted, 5*time.Second)
	waitForEnvelope(t, c2, protocol.TypeBattleStarted, 5*time.Second)
	return c1, c2, roomID
}

// TestPvPBattleStart tests the full two-client start handshake through to
// simulator output
func TestPvPBattleStart(t *testing.T) {
	srv := newTestServer(t)
	c1, c2, _ := startPvPMatch(t, srv)

	// Both clients get the public preview and their private request
	waitForLine(t, c1, "|teampreview", 5*time.Second)
	waitForLine(t, c1, "|request|", 5*time.Second)
	waitForLine(t, c2, "|request|", 5*time.Second)
}

// TestPvPStartUnknownRoom tests starting against a dead room ID
func TestPvPStartUnknownRoom(t *testing.T) {
	srv := newTestServer(t)

	c := dial(t, srv)
	sendEnvelope(t, c, protocol.TypeStart, protocol.StartPayload{
		Mode: protocol.ModePvP, RoomID: "NOSUCHROOM",
		Team: clientTeam("Pikachu", "Thunderbolt"),
	})
	errPayload := waitForEnvelope(t, c, protocol.TypeError, 2*time.Second)
	msg, _ := errPayload["message"].(string)
	if !strings.Contains(msg, "not found") {
		t.Errorf("Expected a not-found error, got %q", msg)
	}
}

// TestReconnectReplacesAndReplays tests the mid-battle reconnect: the old
// socket is closed with the replacement reason, the new one receives the
// cached log and exactly one battle-reconnected envelope
func TestReconnectReplacesAndReplays(t *testing.T) {
	srv := newTestServer(t)
	c1, _, roomID := startPvPMatch(t, srv)

	// Make sure some protocol reached the first socket before replacing it
	waitForLine(t, c1, "|request|", 5*time.Second)

	c3 := dial(t, srv)
	sendEnvelope(t, c3, protocol.TypeStart, protocol.StartPayload{
		Mode: protocol.ModePvP, RoomID: roomID, Side: protocol.SideP1,
	})

	// The newcomer gets public lines first, then its request, then the
	// reconnected marker
	sawPublic := false
	sawRequest := false
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		frame := readFrame(t, c3, time.Until(deadline))
		if len(frame) == 0 {
			continue
		}
		if frame[0] == '|' {
			if strings.HasPrefix(string(frame), "|request|") {
				sawRequest = true
			} else {
				if sawRequest {
					t.Errorf("Public line %q replayed after a private line", frame)
				}
				sawPublic = true
			}
			continue
		}
		var env protocol.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("Unparseable envelope: %v", err)
		}
		if env.Type == protocol.TypeBattleReconnected {
			break
		}
	}
	if !sawPublic || !sawRequest {
		t.Errorf("Replay incomplete: public=%v request=%v", sawPublic, sawRequest)
	}

	// The replaced socket is closed with a normal close frame and the
	// replacement reason
	c1.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, _, err := c1.ReadMessage()
		if err == nil {
			continue
		}
		closeErr, ok := err.(*websocket.CloseError)
		if !ok {
			t.Fatalf("Expected a close error on the replaced socket, got %v", err)
		}
		if closeErr.Code != websocket.CloseNormalClosure {
			t.Errorf("Expected normal closure, got %d", closeErr.Code)
		}
		if closeErr.Text != "Replaced by new connection" {
			t.Errorf("Expected replacement reason, got %q", closeErr.Text)
		}
		break
	}
}

// TestAIBattlePlaysToCompletion tests a complete single-client AI match
// driven over the wire
func TestAIBattlePlaysToCompletion(t *testing.T) {
	srv := newTestServer(t)
	c := dial(t, srv)

	seed := int64(8888)
	sendEnvelope(t, c, protocol.TypeStart, protocol.StartPayload{
		Mode: protocol.ModeAI, Difficulty: 1, Seed: &seed,
		Team: protocol.Team{
			{Species: "Pikachu", Moves: []string{"Thunderbolt", "Quick Attack"}, Level: 50},
			{Species: "Garchomp", Moves: []string{"Earthquake", "Dragon Claw"}, Level: 50},
		},
	})
	waitForEnvelope(t, c, protocol.TypeBattleStarted, 5*time.Second)

	deadline := time.Now().Add(20 * time.Second)
	for time.Now().Before(deadline) {
		frame := readFrame(t, c, time.Until(deadline))
		line := string(frame)
		if strings.HasPrefix(line, "|win|") || line == "|tie|" {
			return
		}
		if !strings.HasPrefix(line, "|request|") {
			continue
		}
		var req sim.Request
		if err := json.Unmarshal(frame[len("|request|"):], &req); err != nil || req.Wait {
			continue
		}
		choice := "default"
		if req.TeamPreview {
			choice = "team 1"
		}
		if len(req.ForceSwitch) > 0 && req.ForceSwitch[0] {
			choice = "switch 2"
		}
		sendEnvelope(t, c, protocol.TypeChoose, protocol.ChoosePayload{Command: choice})
	}
	t.Fatal("AI match did not reach a terminal line in time")
}

// TestLobbyDisconnectNotifiesOpponent tests the disconnect policy before a
// battle: the remaining socket hears opponent-disconnected and a state
// refresh
func TestLobbyDisconnectNotifiesOpponent(t *testing.T) {
	srv := newTestServer(t)

	c1 := dial(t, srv)
	sendEnvelope(t, c1, protocol.TypeCreateRoom, nil)
	created := waitForEnvelope(t, c1, protocol.TypeRoomCreated, 2*time.Second)
	roomID, _ := created["roomID"].(string)

	c2 := dial(t, srv)
	sendEnvelope(t, c2, protocol.TypeJoinRoom, protocol.JoinRoomPayload{RoomID: roomID})
	waitForEnvelope(t, c2, protocol.TypeRoomUpdate, 2*time.Second)

	c1.Close()

	gone := waitForEnvelope(t, c2, protocol.TypeOpponentDisconnected, 2*time.Second)
	if gone["side"] != string(protocol.SideP1) {
		t.Errorf("Expected p1 reported gone, got %v", gone["side"])
	}
	waitForEnvelope(t, c2, protocol.TypeRoomUpdate, 2*time.Second)
}

// TestAbandonedAIMatchClosedIdle tests that an AI match whose only human
// walks away is reclaimed by the idle sweep
func TestAbandonedAIMatchClosedIdle(t *testing.T) {
	cfg := config.Default()
	cfg.Match.IdleTimeout = 50 * time.Millisecond

	registry := room.NewRegistry(cfg.Match.IdleTimeout)
	closed := make(chan match.Result, 1)
	controller := NewController(cfg, sim.NewAdapter(), registry, func(res match.Result) { closed <- res })

	mux := http.NewServeMux()
	mux.HandleFunc("/battle", controller.HandleWebSocket)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	t.Cleanup(controller.Shutdown)

	registry.StartSweeper(20 * time.Millisecond)
	t.Cleanup(registry.StopSweeper)

	c := dial(t, srv)
	seed := int64(4242)
	sendEnvelope(t, c, protocol.TypeStart, protocol.StartPayload{
		Mode: protocol.ModeAI, Difficulty: 1, Seed: &seed,
		Team: protocol.Team{{Species: "Pikachu", Moves: []string{"Thunderbolt"}, Level: 50}},
	})
	waitForEnvelope(t, c, protocol.TypeBattleStarted, 5*time.Second)
	c.Close()

	select {
	case res := <-closed:
		if res.Reason != match.ReasonIdle {
			t.Errorf("Expected idle close, got %s", res.Reason)
		}
		if res.Mode != protocol.ModeAI {
			t.Errorf("Expected ai mode, got %s", res.Mode)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Abandoned AI match was not closed by the sweep")
	}
}

// TestStartRejectsInvalidTeam tests that a bad team is refused with an
// error envelope in both modes, leaving the connection usable
func TestStartRejectsInvalidTeam(t *testing.T) {
	srv := newTestServer(t)

	c := dial(t, srv)
	sendEnvelope(t, c, protocol.TypeStart, protocol.StartPayload{
		Mode: protocol.ModeAI, Difficulty: 1,
		Team: clientTeam("Missingno", "Thunderbolt"),
	})
	errPayload := waitForEnvelope(t, c, protocol.TypeError, 2*time.Second)
	msg, _ := errPayload["message"].(string)
	if !strings.Contains(msg, "invalid team") {
		t.Errorf("Expected invalid-team error, got %q", msg)
	}

	sendEnvelope(t, c, protocol.TypeCreateRoom, nil)
	created := waitForEnvelope(t, c, protocol.TypeRoomCreated, 2*time.Second)
	roomID, _ := created["roomID"].(string)

	sendEnvelope(t, c, protocol.TypeStart, protocol.StartPayload{
		Mode: protocol.ModePvP, RoomID: roomID,
		Team: protocol.Team{{Species: "Pikachu", Moves: []string{"Splash Attack"}, Level: 50}},
	})
	errPayload = waitForEnvelope(t, c, protocol.TypeError, 2*time.Second)
	msg, _ = errPayload["message"].(string)
	if !strings.Contains(msg, "invalid team") {
		t.Errorf("Expected invalid-team error, got %q", msg)
	}
}

// TestChooseWithoutBattle tests choosing before any match exists
func TestChooseWithoutBattle(t *testing.T) {
	srv := newTestServer(t)
	c := dial(t, srv)

	sendEnvelope(t, c, protocol.TypeChoose, protocol.ChoosePayload{Command: "move 1"})
	errPayload := waitForEnvelope(t, c, protocol.TypeError, 2*time.Second)
	msg, _ := errPayload["message"].(string)
	if !strings.Contains(msg, "no active battle") {
		t.Errorf("Expected no-active-battle error, got %q", msg)
	}
}
