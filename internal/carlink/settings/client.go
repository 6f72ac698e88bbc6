package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/core"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/input"
	"github.com/babelcloud/gbox/packages/headunit/internal/util"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const DefaultMaxAttempts = 100

// ReachableHost returns the host a local client dials for a server bound
// to host. Wildcard and empty hosts are reached over loopback.
func ReachableHost(host string) string {
	switch host {
	case "", "0.0.0.0", "::":
		return "127.0.0.1"
	}
	return host
}

type ClientConfig struct {
	Host string
	Port int
	// MaxAttempts caps how many consecutive ports are tried.
	MaxAttempts int
}

// NotificationHandler receives reverse, lights and plugged notifications.
type NotificationHandler func(event string, value bool)

type dialFunc func(ctx context.Context, url string) (*websocket.Conn, error)

func defaultDial(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	return conn, err
}

// Client is the display side of the settings push protocol. Pushed
// settings are mirrored into a local Channel.
type Client struct {
	ws       *websocket.Conn
	port     int
	channel  *Channel
	writeMu  sync.Mutex
	mu       sync.Mutex
	notify   NotificationHandler
	onStream StreamHandler
}

// Dial connects to the settings server. A failed attempt moves on to the
// next port immediately.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	return dial(ctx, cfg, defaultDial)
}

func dial(ctx context.Context, cfg ClientConfig, dialer dialFunc) (*Client, error) {
	logger := util.GetLogger()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}

	host := ReachableHost(cfg.Host)
	port := cfg.Port
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		url := fmt.Sprintf("ws://%s/", net.JoinHostPort(host, strconv.Itoa(port)))
		ws, err := dialer(ctx, url)
		if err == nil {
			logger.Info("Connected to settings server", "url", url)
			return &Client{ws: ws, port: port, channel: NewChannel()}, nil
		}
		logger.Debug("Settings server not reachable, trying next port", "port", port, "error", err)
		lastErr = err
		port++
	}
	return nil, errors.Wrapf(lastErr, "no settings server in ports %d..%d", cfg.Port, port-1)
}

// Port returns the port the client connected to.
func (c *Client) Port() int {
	return c.port
}

// Settings returns the local mirror of the server's settings.
func (c *Client) Settings() *Channel {
	return c.channel
}

// OnNotification sets the handler for boolean notifications.
func (c *Client) OnNotification(h NotificationHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = h
}

// OnStream sets the handler for stream messages sent by the server.
func (c *Client) OnStream(h StreamHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStream = h
}

func (c *Client) send(event string, data any) error {
	env, err := newEnvelope(event, data)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", event)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return errors.Wrapf(c.ws.WriteJSON(env), "failed to send %s", event)
}

func (c *Client) RequestSettings() error {
	return c.send(EventGetSettings, nil)
}

func (c *Client) SendKey(code core.KeyCode) error {
	return c.send(EventKey, KeyPayload{Code: code})
}

func (c *Client) SendPointer(ev input.PointerEvent) error {
	return c.send(EventPointer, PointerPayload{Kind: ev.Kind.String(), X: ev.X, Y: ev.Y})
}

func (c *Client) SendResize(width, height int) error {
	return c.send(EventResize, ResizePayload{Width: width, Height: height})
}

func (c *Client) SendStream(data any) error {
	return c.send(EventStream, data)
}

// Run requests the current settings and then reads pushes until ctx is
// done or the connection drops.
func (c *Client) Run(ctx context.Context) error {
	logger := util.GetLogger()

	stop := context.AfterFunc(ctx, func() { c.ws.Close() })
	defer stop()

	if err := c.RequestSettings(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	for {
		var env Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "settings connection closed")
		}

		c.mu.Lock()
		notify, onStream := c.notify, c.onStream
		c.mu.Unlock()

		switch {
		case env.Event == EventSettings:
			var cfg core.SessionConfig
			if err := json.Unmarshal(env.Data, &cfg); err != nil {
				logger.Warn("Ignoring malformed settings", "error", err)
				continue
			}
			c.channel.Publish(cfg)
		case isNotification(env.Event):
			var value bool
			if err := json.Unmarshal(env.Data, &value); err != nil {
				logger.Warn("Ignoring malformed notification", "event", env.Event, "error", err)
				continue
			}
			if notify != nil {
				notify(env.Event, value)
			}
		case env.Event == EventStream:
			if onStream != nil {
				onStream(env.Data)
			}
		default:
			logger.Debug("Unknown settings message", "event", env.Event)
		}
	}
}

func (c *Client) Close() error {
	return c.ws.Close()
}
