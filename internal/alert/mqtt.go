package alert

import (
	"context"
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/fkusi/sensorhub/internal/errors"
	"github.com/fkusi/sensorhub/internal/logger"
)

const publishTimeout = 5 * time.Second

type mqttPayload struct {
	Kind string `json:"kind"`
	Event
}

// MQTTSink publishes alert events as JSON to a single topic.
type MQTTSink struct {
	client mqtt.Client
	topic  string
}

// MQTTOptions configures the broker connection.
type MQTTOptions struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
}

func NewMQTTSink(opts MQTTOptions) (*MQTTSink, error) {
	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		co.SetPassword(opts.Password)
	}
	co.SetAutoReconnect(true)
	co.SetCleanSession(true)
	co.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(co)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.New().Wrap(errors.ErrAlertSink, token.Error())
	}

	return &MQTTSink{client: client, topic: opts.Topic}, nil
}

func (s *MQTTSink) SendFault(ctx context.Context, e Event) bool {
	return s.publish(ctx, "fault", e)
}

func (s *MQTTSink) SendRecovery(ctx context.Context, e Event) bool {
	return s.publish(ctx, "recovery", e)
}

func (s *MQTTSink) Close() {
	s.client.Disconnect(250)
}

func (s *MQTTSink) publish(_ context.Context, kind string, e Event) bool {
	body, err := json.Marshal(mqttPayload{Kind: kind, Event: e})
	if err != nil {
		logger.Error().Err(err).Msg("Cannot encode alert payload")
		return false
	}

	token := s.client.Publish(s.topic, 1, false, body)
	if !token.WaitTimeout(publishTimeout) {
		logger.Warn().Str("topic", s.topic).Msg("Alert publish timed out")
		return false
	}
	if token.Error() != nil {
		logger.Warn().Str("topic", s.topic).Err(token.Error()).Msg("Alert publish failed")
		return false
	}
	return true
}

// NoopSink drops every event. Used when no broker is configured.
type NoopSink struct{}

func (NoopSink) SendFault(context.Context, Event) bool    { return true }
func (NoopSink) SendRecovery(context.Context, Event) bool { return true }
