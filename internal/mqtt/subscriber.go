package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/kanna-karuppasamy/laser-usage-monitor/internal/config"
	"github.com/kanna-karuppasamy/laser-usage-monitor/internal/models"
)

const connectTimeout = 15 * time.Second

// EventHandler processes a single sensor event
type EventHandler func(ctx context.Context, event models.Event) (models.Result, error)

// Subscriber receives uplinks published by the network server's MQTT integration
type Subscriber struct {
	client  paho.Client
	config  config.MQTTConfig
	handler EventHandler
	logger  *slog.Logger
	ctx     context.Context
}

// NewSubscriber creates a client; nothing is connected until Start
func NewSubscriber(cfg config.MQTTConfig, handler EventHandler, logger *slog.Logger) *Subscriber {
	s := &Subscriber{
		config:  cfg,
		handler: handler,
		logger:  logger.With("component", "mqtt"),
		ctx:     context.Background(),
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetOrderMatters(true).
		SetConnectTimeout(connectTimeout).
		SetOnConnectHandler(func(c paho.Client) {
			// Subscriptions do not survive a reconnect with a new session
			s.subscribe(c)
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			s.logger.Warn("connection lost", "error", err)
		})

	s.client = paho.NewClient(opts)
	return s
}

// Start connects to the broker. Messages are handled until ctx is done or Stop is called.
func (s *Subscriber) Start(ctx context.Context) error {
	s.ctx = ctx

	token := s.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("connect to %s: timed out", s.config.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to %s: %w", s.config.Broker, err)
	}
	s.logger.Info("connected to MQTT broker", "broker", s.config.Broker, "topic", s.config.Topic)
	return nil
}

// Stop disconnects, waiting briefly for in-flight work
func (s *Subscriber) Stop() {
	s.client.Disconnect(250)
}

func (s *Subscriber) subscribe(c paho.Client) {
	token := c.Subscribe(s.config.Topic, byte(s.config.QoS), s.onMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		s.logger.Error("subscribe failed", "topic", s.config.Topic, "error", err)
	}
}

func (s *Subscriber) onMessage(_ paho.Client, msg paho.Message) {
	s.handle(msg.Topic(), msg.Payload())
}

func (s *Subscriber) handle(topic string, payload []byte) {
	if s.ctx.Err() != nil {
		return
	}

	event, err := models.DecodeEvent(payload)
	if err != nil {
		s.logger.Warn("dropping undecodable message", "topic", topic, "error", err)
		return
	}

	result, err := s.handler(s.ctx, event)
	if err != nil {
		s.logger.Error("failed to process reading", "topic", topic, "dev_eui", event.DevEUI, "error", err)
		return
	}
	if !result.Success {
		s.logger.Warn("reading not stored", "dev_eui", event.DevEUI, "reason", result.Reason)
	}
}
