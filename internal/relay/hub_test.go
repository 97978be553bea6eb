package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webcamhead/internal/domain"
	"webcamhead/internal/infrastructure/logger"
	"webcamhead/internal/protocol"
)

func newTestServer(t *testing.T, recorder *FrameRecorder) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(recorder, logger.NewDiscardLogger())
	srv := httptest.NewServer(NewServer(hub, logger.NewDiscardLogger()).Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(hub.CloseAll)
	return hub, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

type testPeer struct {
	t        *testing.T
	conn     *websocket.Conn
	identity domain.PeerIdentity
}

func dialPeer(t *testing.T, srv *httptest.Server, name string) *testPeer {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testPeer{t: t, conn: conn, identity: domain.NewPeerIdentity(name)}
}

func (p *testPeer) send(event string, data any) {
	p.t.Helper()
	msg, err := protocol.Marshal(event, data)
	require.NoError(p.t, err)
	require.NoError(p.t, p.conn.WriteMessage(websocket.TextMessage, msg))
}

func (p *testPeer) join(room string) protocol.Joined {
	p.t.Helper()
	p.send(protocol.EventJoin, protocol.Join{
		Identity:    p.identity.ID.String(),
		DisplayName: p.identity.DisplayName,
		RoomID:      room,
	})
	var joined protocol.Joined
	p.expect(protocol.EventJoined, &joined)
	return joined
}

// expect читает следующее сообщение и проверяет его событие
func (p *testPeer) expect(event string, v any) {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := p.conn.ReadMessage()
	require.NoError(p.t, err)
	env, err := protocol.Unmarshal(msg)
	require.NoError(p.t, err)
	require.Equal(p.t, event, env.Event, string(msg))
	if v != nil {
		require.NoError(p.t, protocol.DecodeData(env, v))
	}
}

// expectSilence проверяет, что за короткое время ничего не пришло
func (p *testPeer) expectSilence() {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, msg, err := p.conn.ReadMessage()
	require.Error(p.t, err, "неожиданное сообщение: %s", msg)
}

func TestHub_JoinAnnouncesPeers(t *testing.T) {
	_, srv := newTestServer(t, nil)
	alice := dialPeer(t, srv, "alice")
	bob := dialPeer(t, srv, "bob")

	joined := alice.join("r1")
	assert.Equal(t, alice.identity.ID.String(), joined.Self.Identity)
	assert.Equal(t, "r1", joined.Self.RoomID)
	assert.Empty(t, joined.ExistingPeers)

	joined = bob.join("r1")
	require.Len(t, joined.ExistingPeers, 1)
	assert.Equal(t, "alice", joined.ExistingPeers[0].DisplayName)

	var peerNew protocol.PeerNew
	alice.expect(protocol.EventNew, &peerNew)
	assert.Equal(t, bob.identity.ID.String(), peerNew.Peer.Identity)
}

func TestHub_RoomsAreIsolated(t *testing.T) {
	_, srv := newTestServer(t, nil)
	alice := dialPeer(t, srv, "alice")
	bob := dialPeer(t, srv, "bob")

	alice.join("r1")
	joined := bob.join("r2")
	assert.Empty(t, joined.ExistingPeers)

	bob.send(protocol.EventFrame, protocol.OutboundFrame{FrameData: protocol.EncodePayload([]byte("jpeg"))})
	alice.expectSilence()
}

func TestHub_JoinWithoutIdentityFails(t *testing.T) {
	_, srv := newTestServer(t, nil)
	p := dialPeer(t, srv, "x")

	p.send(protocol.EventJoin, protocol.Join{DisplayName: "x", RoomID: "r1"})
	var msg protocol.ErrorMessage
	p.expect(protocol.EventError, &msg)
	assert.NotEmpty(t, msg.Message)

	require.NoError(t, p.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	p.expect(protocol.EventError, nil)
}

func TestHub_ToggleBroadcastsToWholeRoom(t *testing.T) {
	hub, srv := newTestServer(t, nil)
	alice := dialPeer(t, srv, "alice")
	bob := dialPeer(t, srv, "bob")
	alice.join("r1")
	bob.join("r1")
	alice.expect(protocol.EventNew, nil)

	alice.send(protocol.EventToggle, protocol.Toggle{Active: true})

	for _, p := range []*testPeer{alice, bob} {
		var status protocol.Status
		p.expect(protocol.EventStatus, &status)
		assert.Equal(t, alice.identity.ID.String(), status.Identity)
		assert.True(t, status.Active)
	}

	players := hub.Players("r1")
	require.Len(t, players, 2)
	for _, p := range players {
		assert.Equal(t, p.Identity == alice.identity.ID.String(), p.WebcamActive)
	}

	// Новый участник видит состояние камеры в ростере
	carol := dialPeer(t, srv, "carol")
	joined := carol.join("r1")
	require.Len(t, joined.ExistingPeers, 2)
	for _, p := range joined.ExistingPeers {
		assert.Equal(t, p.DisplayName == "alice", p.WebcamActive)
	}
}

func TestHub_FrameForwardedToOthersOnly(t *testing.T) {
	hub, srv := newTestServer(t, nil)
	alice := dialPeer(t, srv, "alice")
	bob := dialPeer(t, srv, "bob")
	alice.join("r1")
	bob.join("r1")
	alice.expect(protocol.EventNew, nil)

	payload := protocol.EncodePayload([]byte("jpeg-bytes"))
	alice.send(protocol.EventFrame, protocol.OutboundFrame{FrameData: payload})

	var frame protocol.InboundFrame
	bob.expect(protocol.EventFrame, &frame)
	assert.Equal(t, alice.identity.ID.String(), frame.FromIdentity)
	assert.Equal(t, "alice", frame.FromName)
	assert.Equal(t, payload, frame.FrameData)

	alice.expectSilence()
	assert.Equal(t, uint64(1), hub.Stats().FramesForwarded)
}

func TestHub_FrameFromUnregisteredIgnored(t *testing.T) {
	hub, srv := newTestServer(t, nil)
	alice := dialPeer(t, srv, "alice")
	stranger := dialPeer(t, srv, "stranger")
	alice.join("r1")

	stranger.send(protocol.EventFrame, protocol.OutboundFrame{FrameData: protocol.EncodePayload([]byte("x"))})
	stranger.send(protocol.EventToggle, protocol.Toggle{Active: true})

	alice.expectSilence()
	assert.Equal(t, uint64(0), hub.Stats().FramesForwarded)
}

func TestHub_DisconnectAnnouncesLeave(t *testing.T) {
	hub, srv := newTestServer(t, nil)
	alice := dialPeer(t, srv, "alice")
	bob := dialPeer(t, srv, "bob")
	alice.join("r1")
	bob.join("r1")
	alice.expect(protocol.EventNew, nil)

	require.NoError(t, bob.conn.Close())

	var left protocol.PeerLeft
	alice.expect(protocol.EventLeft, &left)
	assert.Equal(t, bob.identity.ID.String(), left.Identity)
	assert.Equal(t, "bob", left.DisplayName)

	require.NoError(t, alice.conn.Close())
	require.Eventually(t, func() bool { return len(hub.Rooms()) == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, hub.Stats().Players)
}

func TestHub_RejoinMovesBetweenRooms(t *testing.T) {
	hub, srv := newTestServer(t, nil)
	alice := dialPeer(t, srv, "alice")
	bob := dialPeer(t, srv, "bob")
	alice.join("r1")
	bob.join("r1")
	alice.expect(protocol.EventNew, nil)

	bob.join("r2")
	alice.expect(protocol.EventLeft, nil)

	rooms := hub.Rooms()
	require.Len(t, rooms, 2)
	assert.Equal(t, "r1", rooms[0].ID)
	assert.Equal(t, 1, rooms[0].PlayerCount)
	assert.Equal(t, "r2", rooms[1].ID)
}

func TestHub_SameIdentityReplacesConnection(t *testing.T) {
	hub, srv := newTestServer(t, nil)
	alice := dialPeer(t, srv, "alice")
	bob := dialPeer(t, srv, "bob")
	alice.join("r1")
	bob.join("r1")
	alice.expect(protocol.EventNew, nil)

	again := dialPeer(t, srv, "bob")
	again.identity = bob.identity
	joined := again.join("r1")
	require.Len(t, joined.ExistingPeers, 1, "старое подключение не входит в ростер")
	assert.Equal(t, "alice", joined.ExistingPeers[0].DisplayName)
	alice.expect(protocol.EventNew, nil)

	// Старое подключение закрыто сервером
	bob.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := bob.conn.ReadMessage()
	require.Error(t, err)

	alice.expectSilence()
	require.Eventually(t, func() bool { return len(hub.Players("r1")) == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_API(t *testing.T) {
	_, srv := newTestServer(t, nil)
	alice := dialPeer(t, srv, "alice")
	alice.join("r1")

	var health healthResponse
	getJSON(t, srv.URL+"/api/health", &health)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Players)
	assert.Equal(t, 1, health.Rooms)

	var rooms struct {
		Rooms []RoomInfo `json:"rooms"`
	}
	getJSON(t, srv.URL+"/api/rooms", &rooms)
	require.Len(t, rooms.Rooms, 1)
	assert.Equal(t, "r1", rooms.Rooms[0].ID)
	assert.Equal(t, 1, rooms.Rooms[0].PlayerCount)

	var players struct {
		RoomID  string              `json:"roomId"`
		Players []protocol.PeerInfo `json:"players"`
	}
	getJSON(t, srv.URL+"/api/rooms/r1/players", &players)
	assert.Equal(t, "r1", players.RoomID)
	require.Len(t, players.Players, 1)
	assert.Equal(t, "alice", players.Players[0].DisplayName)

	getJSON(t, srv.URL+"/api/rooms/none/players", &players)
	assert.Empty(t, players.Players)

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestFrameRecorder_SavesForwardedFrames(t *testing.T) {
	dir := t.TempDir()
	recorder, err := NewFrameRecorder(dir, 2, logger.NewDiscardLogger())
	require.NoError(t, err)

	_, srv := newTestServer(t, recorder)
	alice := dialPeer(t, srv, "alice")
	bob := dialPeer(t, srv, "bob")
	alice.join("r1")
	bob.join("r1")
	alice.expect(protocol.EventNew, nil)

	for i := 0; i < 3; i++ {
		alice.send(protocol.EventFrame, protocol.OutboundFrame{FrameData: protocol.EncodePayload([]byte{0xFF, 0xD8, byte(i)})})
		bob.expect(protocol.EventFrame, nil)
	}

	recDir, ok := recorder.Dir(alice.identity)
	require.True(t, ok)
	files, err := filepath.Glob(filepath.Join(recDir, "frame_*.jpg"))
	require.NoError(t, err)
	assert.Len(t, files, 2, "сохраняется каждый второй кадр")

	data, err := os.ReadFile(filepath.Join(recDir, "frame_000003.jpg"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8, 2}, data)
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "Steve_01", safeName("Steve 01"))
	assert.Equal(t, "___", safeName("../"))
}
