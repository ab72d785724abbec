package mqtt

import (
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Client is a thin wrapper used for the optional MQTT telemetry transport.
type Client struct {
	client paho.Client
}

type Message struct {
	paho.Message
}

// BrokerURL normalizes mqtt:// and mqtts:// to the schemes paho dials.
func BrokerURL(raw string) string {
	url := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(url, "mqtt://"):
		return "tcp://" + strings.TrimPrefix(url, "mqtt://")
	case strings.HasPrefix(url, "mqtts://"):
		return "ssl://" + strings.TrimPrefix(url, "mqtts://")
	case !strings.Contains(url, "://"):
		return "tcp://" + url
	}
	return url
}

func Connect(brokerURL, clientID string) (*Client, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(BrokerURL(brokerURL))
	if strings.TrimSpace(clientID) == "" {
		clientID = "rosaiq-server-" + time.Now().Format("150405.000")
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.OnConnectionLost = func(_ paho.Client, err error) {
		slog.Warn("mqtt connection lost", "error", err)
	}
	opts.OnConnect = func(_ paho.Client) {
		slog.Info("mqtt connected", "broker", brokerURL)
	}

	c := paho.NewClient(opts)
	tok := c.Connect()
	if ok := tok.WaitTimeout(15 * time.Second); !ok {
		return nil, tok.Error()
	}
	if err := tok.Error(); err != nil {
		return nil, err
	}
	return &Client{client: c}, nil
}

func (c *Client) Subscribe(topic string, handler func(Message)) error {
	tok := c.client.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
		handler(Message{Message: msg})
	})
	tok.Wait()
	return tok.Error()
}

func (c *Client) Close() {
	if c == nil || c.client == nil {
		return
	}
	c.client.Disconnect(1000)
}
