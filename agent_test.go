package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	libnfc "github.com/clausecker/nfc/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotside-studios/nfc-presence-agent/nfc"
	"github.com/dotside-studios/nfc-presence-agent/protocol"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	cfg.Server.MDNS = false
	cfg.Polling.HotplugInterval = 10 * time.Millisecond
	cfg.Polling.ErrorBackoff = time.Millisecond
	return cfg
}

func TestAgent_StartStop(t *testing.T) {
	manager := nfc.NewMockManager()
	agent := NewAgent(testConfig(), manager)
	agent.Driver = "mock"

	require.NoError(t, agent.Start(context.Background()))
	t.Cleanup(agent.Stop)
	assert.Error(t, agent.Start(context.Background()), "second start")

	require.Eventually(t, func() bool {
		infos, err := agent.Lifecycle().ListReaders()
		return err == nil && len(infos) == 1 && infos[0].State == nfc.StatePolling
	}, 2*time.Second, 5*time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://%s/api/v1/health", agent.server.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	var health protocol.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "mock", health.Driver)
	require.Len(t, health.Readers, 1)
	assert.Equal(t, nfc.StatePolling.String(), health.Readers[0].State)

	agent.Stop()
	assert.Nil(t, agent.Lifecycle())
	agent.Stop()
}

func TestAgent_HotplugAutostart(t *testing.T) {
	manager := nfc.NewMockManager()
	agent := NewAgent(testConfig(), manager)
	require.NoError(t, agent.Start(context.Background()))
	t.Cleanup(agent.Stop)

	manager.SetDevices("mock:usb:001", "mock:usb:002")

	require.Eventually(t, func() bool {
		infos, err := agent.Lifecycle().ListReaders()
		if err != nil || len(infos) != 2 {
			return false
		}
		return infos[1].State == nfc.StatePolling
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAgent_NoAutostart(t *testing.T) {
	cfg := testConfig()
	cfg.Polling.Autostart = false
	agent := NewAgent(cfg, nfc.NewMockManager())
	require.NoError(t, agent.Start(context.Background()))
	t.Cleanup(agent.Stop)

	infos, err := agent.Lifecycle().ListReaders()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, nfc.StateStopped, infos[0].State)
}

func TestAgent_StopReportsPresentTagRemoved(t *testing.T) {
	manager := nfc.NewMockManager()
	dev := manager.Devices["mock:usb:001"].(*nfc.MockDevice)
	tag := &libnfc.ISO14443aTarget{Atqa: [2]byte{0x00, 0x04}, Sak: 0x08, UIDLen: 4, Baud: libnfc.Nbr106}
	copy(tag.UID[:], []byte{0x04, 0xAA, 0xBB, 0xCC})
	dev.Script(nfc.OneTarget(tag))
	dev.RepeatLast = true

	agent := NewAgent(testConfig(), manager)
	require.NoError(t, agent.Start(context.Background()))
	t.Cleanup(agent.Stop)
	select {
	case <-dev.Exhausted():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the reader to settle")
	}

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/ws", agent.server.Addr()), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(protocol.WebSocketRequest{
		ID: "1", Type: protocol.WSTypeSubscribe, Payload: map[string]any{"event": protocol.TopicTargetRemove},
	}))
	var ack protocol.WebSocketResponse
	require.NoError(t, conn.ReadJSON(&ack))
	require.True(t, ack.Success)

	agent.Stop()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Type    string                `json:"type"`
		Payload protocol.EventPayload `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, protocol.WSTypeEvent, msg.Type)
	assert.Equal(t, protocol.StatusRemoved, msg.Payload.Status)
	assert.Equal(t, "04aabbcc", msg.Payload.Record.UID())
}
