package events

import (
	"encoding/json"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/snarg/subtitle-engine/internal/metrics"
)

const publishTimeout = 5 * time.Second

type tokenPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPublisher sends events to an MQTT broker at QoS 1.
type MQTTPublisher struct {
	conn      tokenPublisher
	disc      func(quiesce uint)
	prefix    string
	connected atomic.Bool
	log       zerolog.Logger
}

type Options struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	Log         zerolog.Logger
}

// Connect dials the broker and returns once the first connection succeeds.
// The client reconnects on its own afterwards.
func Connect(opts Options) (*MQTTPublisher, error) {
	p := &MQTTPublisher{
		prefix: opts.TopicPrefix,
		log:    opts.Log,
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	conn := mqtt.NewClient(clientOpts)
	token := conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}
	p.conn = conn
	p.disc = conn.Disconnect
	return p, nil
}

func (p *MQTTPublisher) onConnect(_ mqtt.Client) {
	p.connected.Store(true)
	p.log.Info().Str("prefix", p.prefix).Msg("mqtt connected")
}

func (p *MQTTPublisher) onConnectionLost(_ mqtt.Client, err error) {
	p.connected.Store(false)
	p.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

// Publish queues the event and returns immediately. Delivery failures are
// logged.
func (p *MQTTPublisher) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to encode event")
		return
	}

	topic := Topic(p.prefix, e.UserID, e.Action)
	token := p.conn.Publish(topic, 1, false, payload)
	metrics.EventsPublishedTotal.WithLabelValues(string(e.Action)).Inc()
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			p.log.Warn().Str("topic", topic).Msg("mqtt publish timed out")
			return
		}
		if err := token.Error(); err != nil {
			p.log.Warn().Err(err).Str("topic", topic).Msg("mqtt publish failed")
		}
	}()
}

func (p *MQTTPublisher) IsConnected() bool {
	return p.connected.Load()
}

func (p *MQTTPublisher) Close() {
	p.log.Info().Msg("disconnecting mqtt client")
	if p.disc != nil {
		p.disc(1000)
	}
}
