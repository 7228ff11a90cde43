package noise

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// ErrNotConnected is returned when publishing without a live broker connection.
var ErrNotConnected = errors.New("mqtt client not connected")

const publishTimeout = 2 * time.Second

// NewMQTTClient connects to the configured broker. It returns a nil client
// when no broker is configured.
func NewMQTTClient(cfg MQTTConfig, logger zerolog.Logger) (mqtt.Client, error) {
	if cfg.Broker == "" {
		logger.Info().Msg("MQTT disabled: no broker configured")
		return nil, nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "noisegraph"
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connecting to %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Broker, err)
	}
	logger.Info().Str("broker", cfg.Broker).Str("client_id", clientID).Msg("connected to MQTT broker")
	return client, nil
}

// Publisher sends run summaries to MQTT.
type Publisher struct {
	client mqtt.Client
	prefix string
	qos    byte
	retain bool
	logger zerolog.Logger
}

// NewPublisher creates a publisher writing under prefix. A nil client
// disables publishing.
func NewPublisher(client mqtt.Client, prefix string, logger zerolog.Logger) *Publisher {
	if prefix == "" {
		prefix = "noisegraph"
	}
	return &Publisher{
		client: client,
		prefix: prefix,
		qos:    1,
		retain: true,
		logger: logger,
	}
}

// Enabled reports whether a client is attached.
func (p *Publisher) Enabled() bool {
	return p.client != nil
}

// PublishSummary publishes the run summary to <prefix>/summary and each
// dominant band count to <prefix>/bands/<band>.
func (p *Publisher) PublishSummary(s Summary, profiles []EdgeNoiseProfile) error {
	if p.client == nil || !p.client.IsConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	if err := p.publish(p.prefix+"/summary", payload); err != nil {
		return err
	}

	counts := make(map[int]int, len(Bands)+1)
	for _, prof := range profiles {
		counts[prof.DominantBand()]++
	}
	for _, band := range append([]int{0}, Bands...) {
		topic := p.prefix + "/bands/" + bandLabel(band)
		if err := p.publish(topic, []byte(strconv.Itoa(counts[band]))); err != nil {
			return err
		}
	}

	p.logger.Info().Str("run_id", s.RunID).Str("prefix", p.prefix).Int("profiles", s.Profiles).Msg("published run summary")
	return nil
}

func (p *Publisher) publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publishing to %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// bandLabel names a band in topics and legends; 0 is the ambient residual.
func bandLabel(band int) string {
	if band == 0 {
		return "ambient"
	}
	return strconv.Itoa(band)
}
