// Package telemetry publishes proxy heartbeats over MQTT and exposes
// Prometheus metrics for session traffic.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/VoxelSrv/VoxelCraftProxy/internal/config"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/events"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/util"
)

// Topic suffixes, joined onto the configured prefix.
const (
	TopicHeartbeat = "heartbeat"
	TopicSessions  = "sessions"
	TopicStatus    = "status"
	TopicAdmin     = "admin"
)

const disconnectQuiesceMs = 5000

// ErrNotPublic is returned when the proxy is not configured to be listed.
var ErrNotPublic = errors.New("proxy is not public")

// Heartbeat is the periodic listing record for a public proxy.
type Heartbeat struct {
	Name       string             `json:"name"`
	Motd       string             `json:"motd"`
	Protocol   int                `json:"protocol"`
	Software   string             `json:"software"`
	Players    int                `json:"players"`
	MaxPlayers int                `json:"max_players"`
	Sessions   int                `json:"sessions"`
	Port       int                `json:"port"`
	Usage      util.ResourceUsage `json:"usage"`
}

// mqttClient is the subset of mqtt.Client the handler needs.
type mqttClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTHandler connects to the heartbeat broker and publishes the proxy's
// listing and session notices.
type MQTTHandler struct {
	mu sync.Mutex

	cfg      *config.Config
	eventBus *events.EventBus
	client   mqttClient
	prefix   string

	// included in every message
	metadata map[string]interface{}

	published uint64
}

// NewMQTTHandler builds a handler from the mqtt section of cfg. It fails
// when the proxy is not public or no broker is configured.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus) (*MQTTHandler, error) {
	mqttCfg := cfg.MQTT
	if !cfg.Public {
		return nil, ErrNotPublic
	}
	if mqttCfg.BrokerURL == "" {
		return nil, fmt.Errorf("no heartbeat broker configured")
	}

	sysInfo := util.GetSystemInfo()

	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("voxelcraft-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	if mqttCfg.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}

		// mTLS
		if mqttCfg.CertFile != "" && mqttCfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(mqttCfg.CertFile, mqttCfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}

		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	return newHandler(cfg, eventBus, mqtt.NewClient(opts), sysInfo), nil
}

func newHandler(cfg *config.Config, eventBus *events.EventBus, client mqttClient, sysInfo util.SystemInfo) *MQTTHandler {
	prefix := cfg.MQTT.TopicPrefix
	if prefix == "" {
		prefix = "voxelcraft"
	}
	return &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		client:   client,
		prefix:   prefix,
		metadata: map[string]interface{}{
			"hostname":     sysInfo.Hostname,
			"os":           sysInfo.OS,
			"cpu_model":    sysInfo.CPUModel,
			"cpu_threads":  sysInfo.CPUThreads,
			"memory_mb":    sysInfo.TotalMemory,
			"architecture": sysInfo.Architecture,
		},
	}
}

// Start connects to the broker, subscribes to session events and blocks
// until ctx is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", h.cfg.MQTT.BrokerURL).
		Int("port", h.cfg.MQTT.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()

	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(disconnectQuiesceMs)
	log.Info().Msg("MQTT disconnected")

	return nil
}

func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventSessionOpened, "mqtt.sessionOpened", h.onSessionOpened)
	h.eventBus.Subscribe(events.EventSessionClosed, "mqtt.sessionClosed", h.onSessionClosed)
	h.eventBus.Subscribe(events.EventNotifyMQTT, "mqtt.notify", h.onNotify)
}

// Topic returns the full topic name for suffix.
func (h *MQTTHandler) Topic(suffix string) string {
	return h.prefix + "/" + suffix
}

// Published returns how many messages were handed to the client.
func (h *MQTTHandler) Published() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.published
}

// PublishHeartbeat sends the listing record. The heartbeat is retained so
// listing services see the last state of a proxy that went away.
func (h *MQTTHandler) PublishHeartbeat(hb Heartbeat) {
	h.publish(h.Topic(TopicHeartbeat), hb, true)
}

// PublishShutdown announces that the proxy is going away.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(h.Topic(TopicAdmin), map[string]interface{}{
		"event": "shutdown",
	}, false)
}

func (h *MQTTHandler) publish(topic string, payload interface{}, retained bool) {
	if !h.client.IsConnected() {
		return
	}

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	h.mu.Lock()
	h.published++
	h.mu.Unlock()

	token := h.client.Publish(topic, 1, retained, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

func (h *MQTTHandler) onSessionOpened(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.SessionOpenedPayload)
	if !ok {
		return nil
	}
	h.publish(h.Topic(TopicSessions), map[string]interface{}{
		"event":      "session_opened",
		"session_id": p.SessionID,
	}, false)
	return nil
}

func (h *MQTTHandler) onSessionClosed(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.SessionClosedPayload)
	if !ok {
		return nil
	}
	h.publish(h.Topic(TopicSessions), map[string]interface{}{
		"event":        "session_closed",
		"session_id":   p.SessionID,
		"reason":       p.Reason,
		"packets_up":   p.PacketsUp,
		"packets_down": p.PacketsDown,
		"chunks_sent":  p.ChunksSent,
	}, false)
	return nil
}

func (h *MQTTHandler) onNotify(ctx context.Context, event events.Event) error {
	h.publish(h.Topic(TopicStatus), event.Payload, false)
	return nil
}
