package light

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"schoollights/internal/config"
	appLog "schoollights/internal/log"
)

func init() {
	mqtt.ERROR = pahoLogger{appLog.LevelError}
	mqtt.CRITICAL = pahoLogger{appLog.LevelError}
	mqtt.WARN = pahoLogger{appLog.LevelWarn}
}

// pahoLogger routes paho's internal logging into appLog.
type pahoLogger struct {
	level appLog.Level
}

func (l pahoLogger) Println(v ...interface{}) {
	fmt.Fprintln(appLog.Writer(l.level), append([]interface{}{"mqtt:"}, v...)...)
}

func (l pahoLogger) Printf(format string, v ...interface{}) {
	fmt.Fprintf(appLog.Writer(l.level), "mqtt: "+format+"\n", v...)
}

// MQTTPublisher is a Publisher backed by a paho client that reconnects on
// its own.
type MQTTPublisher struct {
	client mqtt.Client
}

// Dial connects to the broker. If the broker is not reachable within
// cfg.ConnectTimeout the publisher is still returned and paho keeps
// retrying in the background; publishes fail until it connects.
func Dial(cfg config.MQTTConfig) (*MQTTPublisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is empty")
	}

	stat := statusTopic(cfg.Device, "POWER")

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(3 * time.Second).
		SetOnConnectHandler(func(c mqtt.Client) {
			appLog.Info("mqtt connected", "broker", cfg.Broker)
			// Subscribe on every (re)connect; the device reports its power state here.
			tok := c.Subscribe(stat, 0, func(_ mqtt.Client, m mqtt.Message) {
				appLog.Info("light power state", "topic", m.Topic(), "payload", string(m.Payload()))
			})
			if tok.WaitTimeout(cfg.ConnectTimeout) && tok.Error() != nil {
				appLog.Error("mqtt subscribe failed", tok.Error(), "topic", stat)
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			appLog.Error("mqtt connection lost; reconnecting", err, "broker", cfg.Broker)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(cfg.ConnectTimeout) {
		appLog.Warn("mqtt broker not reachable yet; retrying in background", "broker", cfg.Broker)
	} else if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}

	return &MQTTPublisher{client: client}, nil
}

func (p *MQTTPublisher) Publish(ctx context.Context, topic string, qos byte, payload string) error {
	if !p.client.IsConnectionOpen() {
		return fmt.Errorf("mqtt publish %s: not connected", topic)
	}
	tok := p.client.Publish(topic, qos, false, payload)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects, giving in-flight messages a moment to go out.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
