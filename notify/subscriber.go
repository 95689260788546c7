package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cepro/northbridge/telemetry"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout      = 10 * time.Second
	disconnectQuiesceMs = 250
)

// Subscriber receives notification payloads (`{"readings": [...]}`) from an MQTT topic, decodes them and forwards
// the reading sets to the data platform.
type Subscriber struct {
	client  mqtt.Client
	topic   string
	decoder *telemetry.Decoder
	out     chan<- *telemetry.ReadingSet
	logger  *slog.Logger

	ctx context.Context
}

func New(broker, clientID, topic string, decoder *telemetry.Decoder, out chan<- *telemetry.ReadingSet) *Subscriber {
	s := &Subscriber{
		topic:   topic,
		decoder: decoder,
		out:     out,
		logger:  slog.Default().With("broker", broker, "topic", topic),
		ctx:     context.Background(),
	}

	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn("MQTT connection lost", "error", err)
	})
	// resubscribe after every (re)connect, a clean session forgets subscriptions
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		token := client.Subscribe(s.topic, 1, s.handleMessage)
		go func() {
			if token.WaitTimeout(connectTimeout) && token.Error() != nil {
				s.logger.Error("MQTT subscribe failed", "error", token.Error())
			}
		}()
	})
	s.client = mqtt.NewClient(opts)

	return s
}

// Run connects to the broker and stays subscribed until the context is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	s.ctx = ctx

	token := s.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return errors.New("mqtt connect timed out")
	}
	if token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}
	s.logger.Info("Subscribed to notifications")

	<-ctx.Done()
	s.client.Disconnect(disconnectQuiesceMs)
	return nil
}

// handleMessage decodes one notification. Payloads that cannot be decoded are logged and dropped.
func (s *Subscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	set, err := s.decoder.DecodeReadingSet(msg.Payload())
	if err != nil {
		s.logger.Error("Invalid notification payload", "message_id", msg.MessageID(), "size", len(msg.Payload()), "error", err)
		return
	}
	if set.Len() == 0 {
		return
	}

	n := set.Len()
	select {
	case <-s.ctx.Done():
		s.logger.Warn("Dropping notification on shutdown", "readings", n)
	case s.out <- set:
		s.logger.Debug("Received notification", "readings", n)
	}
}
