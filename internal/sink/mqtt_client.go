package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// pahoClient is the part of mqtt.Client used here.
type pahoClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
}

// MQTTOptions configures the broker connection.
type MQTTOptions struct {
	Broker         string
	ClientID       string
	PublishTimeout time.Duration
}

// MQTTClient is a paho connection that reconnects on its own.
type MQTTClient struct {
	client         pahoClient
	logger         *logrus.Logger
	publishTimeout time.Duration

	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMQTTClient prepares a client for opts.Broker, e.g. "tcp://localhost:1883".
// Nothing is dialled before Connect.
func NewMQTTClient(opts MQTTOptions, logger *logrus.Logger) (*MQTTClient, error) {
	if opts.Broker == "" {
		return nil, fmt.Errorf("mqtt broker address is required")
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}

	c := &MQTTClient{
		logger:         logger,
		publishTimeout: opts.PublishTimeout,
		stopCh:         make(chan struct{}),
	}

	po := mqtt.NewClientOptions()
	po.AddBroker(opts.Broker)
	po.SetClientID(opts.ClientID)
	po.SetCleanSession(true)

	po.SetAutoReconnect(true)
	po.SetConnectRetry(true)
	po.SetConnectRetryInterval(5 * time.Second)
	po.SetMaxReconnectInterval(60 * time.Second)

	po.SetKeepAlive(30 * time.Second)
	po.SetPingTimeout(10 * time.Second)

	po.SetOnConnectHandler(func(_ mqtt.Client) {
		c.setConnected(true)
		logger.WithField("broker", opts.Broker).Info("MQTT connected")
	})
	po.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setConnected(false)
		logger.WithFields(logrus.Fields{
			"broker": opts.Broker,
			"error":  err,
		}).Warn("MQTT connection lost")
	})

	c.client = mqtt.NewClient(po)
	return c, nil
}

// Connect waits for the first broker connection, respecting ctx and Disconnect.
func (c *MQTTClient) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return fmt.Errorf("mqtt client stopped")
	default:
	}
	if c.IsConnected() {
		return nil
	}

	token := c.client.Connect()
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			c.setConnected(true)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return fmt.Errorf("mqtt client stopped")
		default:
		}
	}
}

// Publish sends payload and waits for the broker acknowledgement.
func (c *MQTTClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if !c.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(c.publishTimeout) {
		return errPublishTimeout{topic: topic}
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect closes the connection. Safe to call more than once.
func (c *MQTTClient) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.client.Disconnect(250)
	c.setConnected(false)
	c.logger.Info("MQTT disconnected")
}

func (c *MQTTClient) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// errPublishTimeout is returned when the broker does not acknowledge in time.
type errPublishTimeout struct{ topic string }

func (e errPublishTimeout) Error() string { return fmt.Sprintf("publish timeout for topic %s", e.topic) }

var _ Publisher = (*MQTTClient)(nil)
