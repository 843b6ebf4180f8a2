package sink

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/roomsense/internal/codec"
	"github.com/srg/roomsense/internal/profile"
	"github.com/srg/roomsense/internal/session"
)

// Publisher sends one MQTT message. *MQTTClient implements it.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// ReadingMessage is the JSON payload published to <prefix>/<role>.
type ReadingMessage struct {
	Device    string        `json:"device"`
	Role      string        `json:"role"`
	Kind      string        `json:"kind"`
	Index     uint64        `json:"index"`
	Timestamp time.Time     `json:"timestamp"`
	Values    codec.Reading `json:"values"`
}

// StateMessage is the retained JSON payload published to <prefix>/state.
type StateMessage struct {
	Device    string    `json:"device"`
	State     string    `json:"state"`
	Message   string    `json:"message"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MQTT forwards readings and state changes of one device to a broker.
// Diagnostics are not published.
type MQTT struct {
	pub    Publisher
	prefix string
	device string
	qos    byte
	logger *logrus.Logger

	now func() time.Time
}

// NewMQTT publishes under prefix for the device with the given address.
func NewMQTT(pub Publisher, prefix, device string, qos byte, logger *logrus.Logger) *MQTT {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}
	return &MQTT{
		pub:    pub,
		prefix: strings.TrimSuffix(prefix, "/"),
		device: device,
		qos:    qos,
		logger: logger,
		now:    time.Now,
	}
}

// Topic returns the topic for a suffix such as a role name or "state".
func (m *MQTT) Topic(suffix string) string {
	if m.prefix == "" {
		return suffix
	}
	return m.prefix + "/" + suffix
}

func (m *MQTT) publish(topic string, retained bool, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"topic": topic,
			"error": err,
		}).Warn("Failed to marshal MQTT payload")
		return
	}
	if err := m.pub.Publish(topic, m.qos, retained, data); err != nil {
		m.logger.WithFields(logrus.Fields{
			"topic": topic,
			"error": err,
		}).Warn("Failed to publish")
		return
	}
	m.logger.WithField("topic", topic).Debug("Published")
}

func (m *MQTT) OnSessionStateChanged(state session.State, message string) {
	msg := StateMessage{
		Device:    m.device,
		State:     state.String(),
		Message:   message,
		Timestamp: m.now(),
	}
	if state.Reason != nil {
		msg.Error = state.Reason.Error()
	}
	m.publish(m.Topic("state"), true, msg)
}

func (m *MQTT) OnReadingDecoded(role profile.Role, reading codec.Reading, index uint64) {
	m.publish(m.Topic(role.Name), false, ReadingMessage{
		Device:    m.device,
		Role:      role.Name,
		Kind:      reading.Kind(),
		Index:     index,
		Timestamp: m.now(),
		Values:    reading,
	})
}

func (m *MQTT) OnDiagnostic(session.Diagnostic) {}

var _ session.Sink = (*MQTT)(nil)
