package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type Client struct {
	cli mqtt.Client
}

// ClientAPI is the minimal surface area the bus needs.
// It enables unit testing without requiring a live broker.
type ClientAPI interface {
	PublishContext(ctx context.Context, topic string, qos byte, payload []byte) error
}

// Options configures the broker connection.
type Options struct {
	BrokerURL      string
	ClientID       string
	InsecureTLS    bool
	ConnectTimeout time.Duration
}

func brokerAddr(u *url.URL) string {
	switch u.Scheme {
	case "mqtt", "tcp":
		return "tcp://" + u.Host
	case "ssl", "tls", "mqtts":
		return "ssl://" + u.Host
	case "ws", "wss":
		return u.Scheme + "://" + u.Host + u.Path
	default:
		return u.Host
	}
}

func New(ctx context.Context, o Options) (*Client, error) {
	u, err := url.Parse(o.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerAddr(u))
	clientID := o.ClientID
	if clientID == "" {
		clientID = "llm-service-bridge-" + time.Now().Format("150405.000")
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.OnConnect = func(c mqtt.Client) { slog.Info("mqtt connected", "broker", u.Redacted()) }
	opts.OnConnectionLost = func(c mqtt.Client, err error) { slog.Error("mqtt connection lost", "error", err) }
	if u.User != nil {
		pw, _ := u.User.Password()
		opts.SetUsername(u.User.Username())
		opts.SetPassword(pw)
	}
	if u.Scheme == "ssl" || u.Scheme == "tls" || u.Scheme == "mqtts" || u.Scheme == "wss" {
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: o.InsecureTLS})
	}

	cli := mqtt.NewClient(opts)
	if err := wait(ctx, cli.Connect()); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return &Client{cli: cli}, nil
}

// PublishContext publishes and waits for the client to hand the message off,
// or for ctx to end, whichever comes first.
func (c *Client) PublishContext(ctx context.Context, topic string, qos byte, payload []byte) error {
	return wait(ctx, c.cli.Publish(topic, qos, false, payload))
}

func (c *Client) Close() error {
	c.cli.Disconnect(250)
	return nil
}

func wait(ctx context.Context, t mqtt.Token) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
