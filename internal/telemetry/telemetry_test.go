package telemetry

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VoxelSrv/VoxelCraftProxy/internal/config"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/events"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/util"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic    string
	retained bool
	body     map[string]interface{}
}

type fakeClient struct {
	mu           sync.Mutex
	connected    bool
	connectErr   error
	disconnected bool
	messages     []published
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = c.connectErr == nil
	return doneToken{err: c.connectErr}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnected = true
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	var body map[string]interface{}
	_ = json.Unmarshal(payload.([]byte), &body)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic: topic, retained: retained, body: body})
	return doneToken{}
}

func (c *fakeClient) snapshot() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]published, len(c.messages))
	copy(out, c.messages)
	return out
}

func publicConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Public = true
	cfg.MQTT.BrokerURL = "broker.example.net"
	cfg.MQTT.TopicPrefix = "proxies/eu1"
	return cfg
}

func TestNewMQTTHandlerRequiresPublic(t *testing.T) {
	_, err := NewMQTTHandler(config.DefaultConfig(), events.NewEventBus())
	assert.ErrorIs(t, err, ErrNotPublic)

	cfg := publicConfig()
	cfg.MQTT.BrokerURL = ""
	_, err = NewMQTTHandler(cfg, events.NewEventBus())
	assert.Error(t, err)

	h, err := NewMQTTHandler(publicConfig(), events.NewEventBus())
	require.NoError(t, err)
	assert.Equal(t, "proxies/eu1/heartbeat", h.Topic(TopicHeartbeat))
}

func TestMQTTHandlerLifecycle(t *testing.T) {
	bus := events.NewEventBus()
	client := &fakeClient{}
	h := newHandler(publicConfig(), bus, client, util.SystemInfo{Hostname: "box"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Start(ctx) }()

	require.Eventually(t, func() bool {
		return bus.HandlerCount(events.EventSessionClosed) == 1
	}, time.Second, 5*time.Millisecond)

	h.PublishHeartbeat(Heartbeat{Name: "Lobby", Players: 2, MaxPlayers: 10})
	require.NoError(t, bus.EmitSync(ctx, events.Event{
		Type:    events.EventSessionClosed,
		Payload: events.SessionClosedPayload{SessionID: "s1", Reason: events.CloseKicked, ChunksSent: 4},
	}))

	cancel()
	require.NoError(t, <-done)

	msgs := client.snapshot()
	require.Len(t, msgs, 3)

	assert.Equal(t, "proxies/eu1/heartbeat", msgs[0].topic)
	assert.True(t, msgs[0].retained)
	assert.Equal(t, "box", msgs[0].body["hostname"])
	payload := msgs[0].body["payload"].(map[string]interface{})
	assert.Equal(t, "Lobby", payload["name"])
	assert.EqualValues(t, 2, payload["players"])

	assert.Equal(t, "proxies/eu1/sessions", msgs[1].topic)
	closed := msgs[1].body["payload"].(map[string]interface{})
	assert.Equal(t, "session_closed", closed["event"])
	assert.Equal(t, "kicked", closed["reason"])

	assert.Equal(t, "proxies/eu1/admin", msgs[2].topic)
	assert.True(t, client.disconnected)
	assert.Equal(t, uint64(3), h.Published())
}

func TestMQTTHandlerSkipsWhileDisconnected(t *testing.T) {
	client := &fakeClient{}
	h := newHandler(publicConfig(), events.NewEventBus(), client, util.SystemInfo{})

	h.PublishHeartbeat(Heartbeat{Name: "Lobby"})
	assert.Empty(t, client.snapshot())
	assert.Zero(t, h.Published())
}

func TestMQTTHandlerConnectFailure(t *testing.T) {
	client := &fakeClient{connectErr: assert.AnError}
	h := newHandler(publicConfig(), events.NewEventBus(), client, util.SystemInfo{})

	err := h.Start(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics()
	bus := events.NewEventBus()
	m.Subscribe(bus)

	ctx := context.Background()
	require.NoError(t, bus.EmitSync(ctx, events.Event{Type: events.EventSessionOpened}))
	require.NoError(t, bus.EmitSync(ctx, events.Event{Type: events.EventSessionOpened}))
	require.NoError(t, bus.EmitSync(ctx, events.Event{Type: events.EventSessionLoggedIn}))
	require.NoError(t, bus.EmitSync(ctx, events.Event{
		Type:    events.EventSessionClosed,
		Payload: events.SessionClosedPayload{Reason: events.CloseClientLeft},
	}))

	m.MessageReceived("ActionMove")
	m.MessageReceived("ActionMove")
	m.PacketReceived("map_chunk")
	m.ChunkFlushed(4096)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, `voxelcraft_downstream_messages_total{type="ActionMove"} 2`)
	assert.Contains(t, text, `voxelcraft_upstream_packets_total{packet="map_chunk"} 1`)
	assert.Contains(t, text, "voxelcraft_chunks_flushed_total 1")
	assert.Contains(t, text, "voxelcraft_sessions_opened_total 2")
	assert.Contains(t, text, "voxelcraft_sessions_logged_in_total 1")
	assert.Contains(t, text, `voxelcraft_sessions_closed_total{reason="client_left"} 1`)
	assert.Contains(t, text, "voxelcraft_sessions_active 1")
}
