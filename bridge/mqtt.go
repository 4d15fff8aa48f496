package bridge

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/kbralten/umdt/frame"
	"github.com/kbralten/umdt/script"
	"go.uber.org/zap"
)

// MQTTTelemetryConfig configures the bridge's register-snooping telemetry
// publisher: every holding-register read reply passing through the bridge
// is decoded, and the values observed since the last snapshot are
// published to an MQTT topic. There is no per-register watch list.
type MQTTTelemetryConfig struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// MQTTTelemetry watches bridge traffic for holding-register reads and
// republishes the observed values as JSON. It attaches through the
// standard hook points, so it composes with any user hooks: install its
// hooks and wire OnPeriodic into the bridge engine's periodic slot.
type MQTTTelemetry struct {
	logger *zap.Logger
	cfg    MQTTTelemetryConfig
	client mqtt.Client

	mu       sync.Mutex
	lastReq  *frame.Request
	observed map[uint16]uint16
}

type telemetrySample struct {
	Timestamp string            `json:"timestamp"`
	Registers map[string]uint16 `json:"registers"`
}

// NewMQTTTelemetry connects to the broker and returns the publisher.
func NewMQTTTelemetry(logger *zap.Logger, cfg MQTTTelemetryConfig) (*MQTTTelemetry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("umdt-bridge-%d", time.Now().Unix())
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("bridge: mqtt connect %s: %w", cfg.Broker, token.Error())
	}
	return &MQTTTelemetry{
		logger:   logger,
		cfg:      cfg,
		client:   client,
		observed: make(map[uint16]uint16),
	}, nil
}

// ObserveRequest notes the request so the matching response can be
// attributed to its addresses. Call it from an ingress hook.
func (m *MQTTTelemetry) ObserveRequest(_ *script.Context, req *frame.Request) script.RequestHookResult {
	if req.Function == frame.ReadHoldingRegisters {
		m.mu.Lock()
		m.lastReq = req
		m.mu.Unlock()
	}
	return script.RequestHookResult{Outcome: script.OutcomeContinue, Request: req}
}

// ObserveResponse decodes holding-register read replies against the last
// observed request. Call it from a response hook.
func (m *MQTTTelemetry) ObserveResponse(_ *script.Context, resp *frame.Response) *frame.Response {
	if resp.IsException || resp.Function != frame.ReadHoldingRegisters {
		return resp
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastReq == nil {
		return resp
	}
	values, err := frame.DecodeRegistersResponse(resp.Payload)
	if err != nil {
		return resp
	}
	for i, v := range values {
		m.observed[m.lastReq.Address+uint16(i)] = v
	}
	return resp
}

// PublishSnapshot pushes everything observed since the last snapshot.
// Wire it into the bridge engine's on_periodic hook.
func (m *MQTTTelemetry) PublishSnapshot(_ *script.Context) {
	m.mu.Lock()
	if len(m.observed) == 0 {
		m.mu.Unlock()
		return
	}
	regs := make(map[string]uint16, len(m.observed))
	for addr, v := range m.observed {
		regs[fmt.Sprintf("%d", addr)] = v
	}
	m.observed = make(map[uint16]uint16)
	m.mu.Unlock()

	sample := telemetrySample{
		Timestamp: time.Now().Format(time.RFC3339),
		Registers: regs,
	}
	payload, err := json.Marshal(sample)
	if err != nil {
		return
	}
	token := m.client.Publish(m.cfg.Topic, m.cfg.QoS, false, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			m.logger.Warn("mqtt telemetry publish failed", zap.Error(err))
		}
	}()
}

// Close disconnects from the broker.
func (m *MQTTTelemetry) Close() {
	m.client.Disconnect(250)
}
