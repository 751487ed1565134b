// Package mqtt publishes dispatch events to technician and client apps over
// MQTT and listens for the positions they push.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/depannage/core/logger"
	"github.com/kilianp07/depannage/core/monitoring"
	infralogger "github.com/kilianp07/depannage/infra/logger"
)

// ErrNotConnected is returned when publishing before the client connected.
var ErrNotConnected = errors.New("mqtt client not connected")

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker      string          `json:"broker"`
	ClientID    string          `json:"client_id"`
	Username    string          `json:"username"`
	Password    string          `json:"password"`
	TopicPrefix string          `json:"topic_prefix"`
	UseTLS      bool            `json:"use_tls"`
	ClientCert  string          `json:"client_cert"`
	ClientKey   string          `json:"client_key"`
	CABundle    string          `json:"ca_bundle"`
	AuthMethod  string          `json:"auth_method"`
	QoS         map[string]byte `json:"qos"`
	LWTTopic    string          `json:"lwt_topic"`
	LWTPayload  string          `json:"lwt_payload"`
	LWTQoS      byte            `json:"lwt_qos"`
	LWTRetain   bool            `json:"lwt_retain"`
	MaxRetries  int             `json:"max_retries"`
	BackoffMS   int             `json:"backoff_ms"`
	TLSConfig   *tls.Config     `json:"-"`
}

// Enabled reports whether a broker is configured.
func (c Config) Enabled() bool { return c.Broker != "" }

// SetDefaults fills the topic prefix and retry policy.
func (c *Config) SetDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = "depannage"
	}
	c.TopicPrefix = strings.TrimSuffix(c.TopicPrefix, "/")
	if c.ClientID == "" {
		c.ClientID = "depannage-dispatch"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
}

// Validate checks the broker and QoS levels.
func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	for k, q := range c.QoS {
		if q > 2 {
			return fmt.Errorf("mqtt: qos %q must be 0, 1 or 2", k)
		}
	}
	if c.UseTLS && c.TLSConfig == nil && (c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "") {
		return fmt.Errorf("mqtt: tls requires client_cert, client_key and ca_bundle")
	}
	return nil
}

func (c Config) qosFor(kind string) byte {
	if q, ok := c.QoS[kind]; ok {
		return q
	}
	return 0
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// PahoClient wraps a Paho connection with retrying publishes and
// subscriptions restored on every reconnect.
type PahoClient struct {
	cli     pahoClient
	cfg     Config
	log     logger.Logger
	backoff time.Duration

	mu   sync.Mutex
	subs map[string]subscription
}

type subscription struct {
	kind    string
	handler paho.MessageHandler
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewPahoClient connects to the MQTT broker.
func NewPahoClient(cfg Config, log logger.Logger) (*PahoClient, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = infralogger.New("mqtt_client")
	}
	pc := &PahoClient{
		cfg:     cfg,
		log:     log,
		backoff: time.Duration(cfg.BackoffMS) * time.Millisecond,
		subs:    make(map[string]subscription),
	}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected to %s", cfg.Broker)
		pc.resubscribe(c)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	pc.cli = c
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, token.Error())
	}
	return pc, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	opts.SetCleanSession(true)
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("ca bundle %s holds no certificate", c.CABundle)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// Topic joins the configured prefix with the given segments.
func (p *PahoClient) Topic(parts ...string) string {
	return p.cfg.TopicPrefix + "/" + strings.Join(parts, "/")
}

// Publish sends payload on topic, retrying with exponential backoff. kind
// selects the QoS entry in the configuration.
func (p *PahoClient) Publish(topic, kind string, payload []byte) error {
	return p.PublishContext(context.Background(), topic, kind, payload)
}

// PublishContext is Publish bounded by ctx: waiting for the broker and the
// backoff between retries both stop when ctx is done.
func (p *PahoClient) PublishContext(ctx context.Context, topic, kind string, payload []byte) error {
	if p.cli == nil {
		return ErrNotConnected
	}
	qos := p.cfg.qosFor(kind)
	var publishErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		token := p.cli.Publish(topic, qos, false, payload)
		select {
		case <-token.Done():
			publishErr = token.Error()
		case <-ctx.Done():
			return fmt.Errorf("publish %s: %w", topic, ctx.Err())
		}
		if publishErr == nil {
			p.log.Debugf("published %s on %s", kind, topic)
			return nil
		}
		p.log.Warnf("publish attempt %d on %s failed: %v", attempt+1, topic, publishErr)
		if attempt < p.cfg.MaxRetries {
			t := time.NewTimer(p.backoff * time.Duration(1<<attempt))
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("publish %s: %w", topic, ctx.Err())
			}
		}
	}
	monitoring.CaptureException(publishErr, map[string]string{"module": "mqtt", "topic": topic})
	return fmt.Errorf("publish %s: %w", topic, publishErr)
}

// Subscribe registers handler on topic. The subscription is restored after
// every reconnect.
func (p *PahoClient) Subscribe(topic, kind string, handler paho.MessageHandler) error {
	p.mu.Lock()
	p.subs[topic] = subscription{kind: kind, handler: handler}
	p.mu.Unlock()
	if p.cli == nil || !p.cli.IsConnected() {
		return nil
	}
	token := p.cli.Subscribe(topic, p.cfg.qosFor(kind), handler)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	return nil
}

func (p *PahoClient) resubscribe(c paho.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for topic, sub := range p.subs {
		if token := c.Subscribe(topic, p.cfg.qosFor(sub.kind), sub.handler); token.Wait() && token.Error() != nil {
			p.log.Errorf("resubscribe %s: %v", topic, token.Error())
		}
	}
}

// Disconnect gracefully closes the MQTT connection.
func (p *PahoClient) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
