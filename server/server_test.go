package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	libnfc "github.com/clausecker/nfc/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotside-studios/nfc-presence-agent/nfc"
	"github.com/dotside-studios/nfc-presence-agent/protocol"
)

const testReader = "mock:usb:001"

type testAgent struct {
	server    *Server
	http      *httptest.Server
	lifecycle *nfc.Lifecycle
	device    *nfc.MockDevice
}

func newTestAgent(t *testing.T, cfg Config) *testAgent {
	t.Helper()
	manager := nfc.NewMockManager()
	dev := nfc.NewMockDevice()
	dev.DeviceConnection = testReader
	manager.AddDevice(testReader, dev)

	lifecycle := nfc.NewLifecycle(manager, nfc.LifecycleConfig{
		Poller: nfc.PollerConfig{
			ErrorBackoff: time.Millisecond,
			Reacquire:    nfc.ReacquireConfig{InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		},
	}, nil)

	cfg.Lifecycle = lifecycle
	srv := New(cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.clients.CloseAll()
		ts.Close()
		lifecycle.Shutdown()
	})
	return &testAgent{server: srv, http: ts, lifecycle: lifecycle, device: dev}
}

func (a *testAgent) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(a.http.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func isoATarget(uid ...byte) *libnfc.ISO14443aTarget {
	t := &libnfc.ISO14443aTarget{
		Atqa:   [2]byte{0x00, 0x04},
		Sak:    0x08,
		UIDLen: len(uid),
		Baud:   libnfc.Nbr106,
	}
	copy(t.UID[:], uid)
	return t
}

// frame is a decoded server message: a response or an event.
type frame struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Payload json.RawMessage `json:"payload"`
}

func request(t *testing.T, conn *websocket.Conn, id, typ string, payload map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(protocol.WebSocketRequest{ID: id, Type: typ, Payload: payload}))
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func readEvent(t *testing.T, conn *websocket.Conn) protocol.EventPayload {
	t.Helper()
	for {
		f := read(t, conn)
		if f.Type != protocol.WSTypeEvent {
			continue
		}
		var ev protocol.EventPayload
		require.NoError(t, json.Unmarshal(f.Payload, &ev))
		return ev
	}
}

func errorCode(t *testing.T, f frame) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(f.Payload, &body))
	return body.Code
}

func TestServer_Health(t *testing.T) {
	agent := newTestAgent(t, Config{Driver: "mock"})

	resp, err := http.Get(agent.http.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, CORSAllowOrigin, resp.Header.Get("Access-Control-Allow-Origin"))

	var health protocol.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "mock", health.Driver)
	require.Len(t, health.Readers, 1)
	assert.Equal(t, testReader, health.Readers[0].ID)
	assert.Equal(t, nfc.StateStopped.String(), health.Readers[0].State)
	assert.Nil(t, health.Readers[0].Stats)
}

func TestServer_HealthRejectsPost(t *testing.T) {
	agent := newTestAgent(t, Config{})

	resp, err := http.Post(agent.http.URL+"/api/v1/health", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_APISecret(t *testing.T) {
	agent := newTestAgent(t, Config{APISecret: "s3cret"})
	url := "ws" + strings.TrimPrefix(agent.http.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url+"?secret=wrong", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	agent.dial(t, "?secret=s3cret")
}

func TestServer_ProtocolErrors(t *testing.T) {
	agent := newTestAgent(t, Config{})
	conn := agent.dial(t, "")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	f := read(t, conn)
	assert.Equal(t, protocol.WSTypeError, f.Type)
	assert.Equal(t, protocol.ErrCodeParseError, errorCode(t, f))

	request(t, conn, "1", "write-tag", nil)
	f = read(t, conn)
	assert.Equal(t, "1", f.ID)
	assert.Equal(t, protocol.ErrCodeUnknownType, errorCode(t, f))

	request(t, conn, "2", protocol.WSTypeSubscribe, map[string]any{"event": "on-card-swipe"})
	f = read(t, conn)
	assert.Equal(t, "2", f.ID)
	assert.False(t, f.Success)
	assert.Equal(t, protocol.ErrCodeUnknownTopic, errorCode(t, f))
}

func TestServer_ListDevices(t *testing.T) {
	agent := newTestAgent(t, Config{})
	conn := agent.dial(t, "")

	tests := []struct {
		verb     string
		wantCaps bool
	}{
		{protocol.WSTypeListDevices, false},
		{protocol.WSTypeListCapabilities, true},
	}
	for _, tt := range tests {
		t.Run(tt.verb, func(t *testing.T) {
			request(t, conn, tt.verb, tt.verb, nil)
			f := read(t, conn)
			require.True(t, f.Success, f.Error)
			assert.Equal(t, tt.verb, f.Type)

			var readers []protocol.ReaderPayload
			require.NoError(t, json.Unmarshal(f.Payload, &readers))
			require.Len(t, readers, 1)
			assert.Equal(t, testReader, readers[0].ID)
			if tt.wantCaps {
				require.Len(t, readers[0].Capabilities, 1)
				assert.Equal(t, protocol.CapabilityPayload{Modulation: "ISO/IEC 14443A", BaudRate: "106 kbps"}, readers[0].Capabilities[0])
			} else {
				assert.Empty(t, readers[0].Capabilities)
			}
		})
	}
}

func TestServer_StartStop(t *testing.T) {
	agent := newTestAgent(t, Config{})
	conn := agent.dial(t, "")

	start := func(id string, payload map[string]any) frame {
		request(t, conn, id, protocol.WSTypeStart, payload)
		return read(t, conn)
	}

	f := start("1", map[string]any{"device": testReader})
	require.True(t, f.Success, f.Error)
	var started protocol.StartResponse
	require.NoError(t, json.Unmarshal(f.Payload, &started))
	assert.Equal(t, map[string]string{testReader: nfc.StatusPolling}, started.Statuses)

	f = start("2", nil)
	require.True(t, f.Success, f.Error)
	require.NoError(t, json.Unmarshal(f.Payload, &started))
	assert.Equal(t, map[string]string{testReader: nfc.StatusAlreadyPolling}, started.Statuses)

	f = start("3", map[string]any{"device": "mock:usb:404"})
	assert.False(t, f.Success)
	assert.Equal(t, protocol.ErrCodeStartFailed, errorCode(t, f))

	request(t, conn, "4", protocol.WSTypeStop, map[string]any{"device": testReader})
	f = read(t, conn)
	require.True(t, f.Success, f.Error)
	require.NoError(t, json.Unmarshal(f.Payload, &started))
	assert.Equal(t, map[string]string{testReader: nfc.StatusStopped}, started.Statuses)

	request(t, conn, "5", protocol.WSTypeStop, nil)
	f = read(t, conn)
	assert.Equal(t, protocol.ErrCodeInvalidRequest, errorCode(t, f))
}

func TestServer_PresenceEvents(t *testing.T) {
	agent := newTestAgent(t, Config{})
	agent.device.Script(
		nfc.OneTarget(isoATarget(0x04, 0xa1, 0xb2, 0xc3)),
		nfc.OneTarget(isoATarget(0x04, 0xa1, 0xb2, 0xc3)),
		nfc.NoTarget(),
	)
	conn := agent.dial(t, "")

	request(t, conn, "sub", protocol.WSTypeSubscribe, map[string]any{"event": "presence"})
	f := read(t, conn)
	require.True(t, f.Success, f.Error)
	assert.Equal(t, "sub", f.ID)

	request(t, conn, "start", protocol.WSTypeStart, map[string]any{"device": testReader})

	detected := readEvent(t, conn)
	assert.Equal(t, protocol.TopicPresence, detected.Event)
	assert.Equal(t, protocol.StatusDetected, detected.Status)
	assert.Equal(t, testReader, detected.Reader)
	assert.Equal(t, "04a1b2c3", detected.Record.UID())
	assert.Equal(t, string(nfc.KindISO14443A), detected.Record["Type"])
	assert.False(t, detected.Replay)

	removed := readEvent(t, conn)
	assert.Equal(t, protocol.StatusRemoved, removed.Status)
	assert.Equal(t, detected.Record, removed.Record)
	assert.Greater(t, removed.Seq, detected.Seq)
}

func TestServer_SubscribeReplay(t *testing.T) {
	agent := newTestAgent(t, Config{})
	agent.device.Script(nfc.OneTarget(isoATarget(0x04, 0x01, 0x02, 0x03)))
	agent.device.RepeatLast = true

	status, err := agent.lifecycle.StartPolling(testReader)
	require.NoError(t, err)
	require.Equal(t, nfc.StatusPolling, status)
	select {
	case <-agent.device.Exhausted():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the reader to settle")
	}

	conn := agent.dial(t, "")
	request(t, conn, "sub", protocol.WSTypeSubscribe, map[string]any{"event": "on-nfc-target-add", "replay": true})

	// The ack always precedes the replayed event.
	ack := read(t, conn)
	assert.Equal(t, "sub", ack.ID)
	assert.True(t, ack.Success)

	f := read(t, conn)
	require.Equal(t, protocol.WSTypeEvent, f.Type)
	var ev protocol.EventPayload
	require.NoError(t, json.Unmarshal(f.Payload, &ev))
	assert.True(t, ev.Replay)
	assert.Equal(t, protocol.TopicTargetAdd, ev.Event)
	assert.Equal(t, "04010203", ev.Record.UID())
}

func TestServer_DrainDeliversShutdownRemoval(t *testing.T) {
	agent := newTestAgent(t, Config{})
	agent.device.Script(nfc.OneTarget(isoATarget(0x04, 0x01, 0x02, 0x03)))
	agent.device.RepeatLast = true

	_, err := agent.lifecycle.StartPolling(testReader)
	require.NoError(t, err)
	select {
	case <-agent.device.Exhausted():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the reader to settle")
	}

	conn := agent.dial(t, "")
	request(t, conn, "sub", protocol.WSTypeSubscribe, map[string]any{"event": protocol.TopicPresence})
	require.True(t, read(t, conn).Success)

	agent.lifecycle.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	agent.server.Drain(ctx)
	agent.server.Stop()

	ev := readEvent(t, conn)
	assert.Equal(t, protocol.StatusRemoved, ev.Status)
	assert.Equal(t, "04010203", ev.Record.UID())
}

func TestServer_DisconnectReleasesSubscriptions(t *testing.T) {
	agent := newTestAgent(t, Config{})
	conn := agent.dial(t, "")

	for i, topic := range []string{protocol.TopicPresence, protocol.TopicTargetRemove, protocol.TopicPresence} {
		request(t, conn, string(rune('a'+i)), protocol.WSTypeSubscribe, map[string]any{"event": topic})
		require.True(t, read(t, conn).Success)
	}
	assert.Equal(t, 2, agent.lifecycle.Broker().Count())
	assert.Equal(t, 1, agent.server.Clients())

	request(t, conn, "u", protocol.WSTypeUnsubscribe, map[string]any{"event": protocol.TopicTargetRemove})
	require.True(t, read(t, conn).Success)
	assert.Equal(t, 1, agent.lifecycle.Broker().Count())

	conn.Close()
	assert.Eventually(t, func() bool {
		return agent.lifecycle.Broker().Count() == 0 && agent.server.Clients() == 0
	}, 2*time.Second, 5*time.Millisecond)
}
