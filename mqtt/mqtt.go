// Package mqtt mirrors presence events to an MQTT broker.
package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Config holds MQTT connection settings.
type Config struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
	// TopicPrefix is prepended to every published topic.
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
	Retain      bool   `yaml:"retain"`
}

// DefaultTopicPrefix is used when Config.TopicPrefix is empty.
const DefaultTopicPrefix = "nfc"

// Client wraps the paho client. A client built without a host is disabled and
// every call on it is a no-op.
type Client struct {
	client   paho.Client
	clientID string
	enabled  bool
	qos      byte
	retain   bool
}

// New creates a new MQTT client. Returns a disabled no-op client if host is empty.
func New(cfg Config, clientID string) (*Client, error) {
	c := &Client{clientID: clientID, qos: cfg.QoS, retain: cfg.Retain}
	if cfg.Host == "" {
		log.Debug("MQTT disabled (no host configured)")
		return c, nil
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid QoS %d", cfg.QoS)
	}

	broker, tlsConfig, err := brokerURL(cfg)
	if err != nil {
		return nil, err
	}

	c.enabled = true
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetKeepAlive(60 * time.Second).
		SetConnectionLostHandler(c.handleConnectionLost).
		SetOnConnectHandler(c.handleConnect)
	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}
	c.client = paho.NewClient(opts)

	entry := log.WithField("component", "mqtt")
	paho.ERROR = entry
	paho.CRITICAL = entry
	paho.WARN = entry

	return c, nil
}

func brokerURL(cfg Config) (string, *tls.Config, error) {
	if cfg.CACert != "" || cfg.ClientCert != "" {
		if cfg.Port == 0 {
			cfg.Port = 8883
		}
		tlsConfig, err := buildTLSConfig(cfg)
		if err != nil {
			return "", nil, fmt.Errorf("build TLS config: %w", err)
		}
		return fmt.Sprintf("ssl://%s:%d", cfg.Host, cfg.Port), tlsConfig, nil
	}
	if cfg.Port == 0 {
		cfg.Port = 1883
	}
	return fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port), nil, nil
}

func buildTLSConfig(cfg Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	if cfg.CACert != "" {
		caCert, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA cert: %w", err)
		}
		caPool := x509.NewCertPool()
		if !caPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("no certificates in %s", cfg.CACert)
		}
		tlsConfig.RootCAs = caPool
	}

	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// Connect connects to the MQTT broker. No-op if disabled.
func (c *Client) Connect() error {
	if !c.enabled {
		return nil
	}
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect: %w", token.Error())
	}
	return nil
}

// Disconnect disconnects from the MQTT broker. No-op if disabled.
func (c *Client) Disconnect() {
	if !c.enabled || c.client == nil {
		return
	}
	c.client.Disconnect(250)
}

// Publish publishes payload to topic and waits for the broker to accept it.
// No-op if disabled.
func (c *Client) Publish(topic string, payload []byte) error {
	if !c.enabled {
		return nil
	}
	token := c.client.Publish(topic, c.qos, c.retain, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// IsEnabled returns whether MQTT is enabled.
func (c *Client) IsEnabled() bool {
	return c.enabled
}

func (c *Client) handleConnect(client paho.Client) {
	log.WithField("client", c.clientID).Info("MQTT connection established")
}

func (c *Client) handleConnectionLost(client paho.Client, err error) {
	log.WithError(err).Warn("MQTT connection lost")
}
