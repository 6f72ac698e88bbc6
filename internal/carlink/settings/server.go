package settings

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/core"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/input"
	"github.com/babelcloud/gbox/packages/headunit/internal/util"
	"github.com/dchest/uniuri"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	DefaultPort            = 4000
	DefaultMaxPortAttempts = 100

	writeTimeout = 5 * time.Second
)

// InputHandler receives input forwarded by a remote display client.
type InputHandler interface {
	KeyDown(code core.KeyCode)
	Pointer(ev input.PointerEvent)
	Resize(width, height int)
}

// StreamHandler receives the opaque payload of a stream message.
type StreamHandler func(data json.RawMessage)

type ServerConfig struct {
	Host string
	Port int
	// MaxPortAttempts caps how many consecutive ports are tried when the
	// configured one is taken.
	MaxPortAttempts int
}

type listenFunc func(network, address string) (net.Listener, error)

// Server pushes the settings channel to remote display clients over
// websocket connections.
type Server struct {
	channel  *Channel
	cfg      ServerConfig
	listen   listenFunc
	upgrader websocket.Upgrader

	mu             sync.Mutex
	listener       net.Listener
	httpServer     *http.Server
	conns          map[string]*serverConn
	input          InputHandler
	streamHandlers []StreamHandler
	sub            Subscription
	port           int
}

type serverConn struct {
	id      string
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *serverConn) send(event string, data any) error {
	env, err := newEnvelope(event, data)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", event)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(env)
}

func NewServer(channel *Channel, cfg ServerConfig) *Server {
	if cfg.MaxPortAttempts <= 0 {
		cfg.MaxPortAttempts = DefaultMaxPortAttempts
	}
	return &Server{
		channel: channel,
		cfg:     cfg,
		listen:  net.Listen,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // display clients are local
			},
		},
		conns: make(map[string]*serverConn),
	}
}

// SetInputHandler routes key, pointer and resize messages to h.
func (s *Server) SetInputHandler(h InputHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.input = h
}

// OnStream registers a handler for stream messages.
func (s *Server) OnStream(h StreamHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamHandlers = append(s.streamHandlers, h)
}

// Start binds the listener and serves in the background. A port that is
// already in use is skipped in favour of the next one.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return errors.Wrap(core.ErrProtocolMisuse, "settings server already started")
	}

	ln, port, err := s.bind()
	if err != nil {
		return err
	}
	s.listener = ln
	s.port = port

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)
	s.httpServer = &http.Server{Handler: mux}
	s.sub = s.channel.Subscribe(func(cfg core.SessionConfig) {
		s.broadcast(EventSettings, cfg)
	})

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			util.GetLogger().Error("Settings server stopped", "error", err)
		}
	}()

	util.GetLogger().Info("Settings server listening", "addr", ln.Addr().String())
	return nil
}

func (s *Server) bind() (net.Listener, int, error) {
	logger := util.GetLogger()
	port := s.cfg.Port
	for attempt := 0; attempt < s.cfg.MaxPortAttempts; attempt++ {
		addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(port))
		ln, err := s.listen("tcp", addr)
		if err == nil {
			if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
				port = tcp.Port
			}
			return ln, port, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, 0, errors.Wrapf(err, "failed to listen on %s", addr)
		}
		logger.Debug("Port in use, trying next", "port", port)
		port++
	}
	return nil, 0, errors.Wrapf(core.ErrBindConflict, "no free port in %d..%d", s.cfg.Port, port-1)
}

// Port returns the bound port, zero before Start.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Notify sends a named boolean notification such as reverse or lights to
// every connected client.
func (s *Server) Notify(event string, value bool) error {
	if !isNotification(event) {
		return errors.Errorf("unknown notification %q", event)
	}
	s.broadcast(event, value)
	return nil
}

// Connections returns the number of connected clients.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) broadcast(event string, data any) {
	s.mu.Lock()
	conns := make([]*serverConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if err := c.send(event, data); err != nil {
			util.GetLogger().Warn("Failed to push to settings client", "conn", c.id, "event", event, "error", err)
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	logger := util.GetLogger()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade settings connection", "error", err)
		return
	}

	c := &serverConn{id: uniuri.NewLen(8), ws: ws}
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, c.id)
		s.mu.Unlock()
		ws.Close()
		logger.Info("Settings client disconnected", "conn", c.id)
	}()

	logger.Info("Settings client connected", "conn", c.id, "remote", r.RemoteAddr)

	if cfg, ok := s.channel.Current(); ok {
		if err := c.send(EventSettings, cfg); err != nil {
			logger.Warn("Failed to send settings", "conn", c.id, "error", err)
			return
		}
	}

	for {
		var env Envelope
		if err := ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("Settings connection read error", "conn", c.id, "error", err)
			}
			return
		}
		s.dispatch(c, env)
	}
}

func (s *Server) dispatch(c *serverConn, env Envelope) {
	logger := util.GetLogger()

	s.mu.Lock()
	h := s.input
	streams := append([]StreamHandler(nil), s.streamHandlers...)
	s.mu.Unlock()

	switch env.Event {
	case EventGetSettings:
		if cfg, ok := s.channel.Current(); ok {
			if err := c.send(EventSettings, cfg); err != nil {
				logger.Warn("Failed to send settings", "conn", c.id, "error", err)
			}
		}
	case EventStream:
		for _, handler := range streams {
			handler(env.Data)
		}
	case EventKey:
		var p KeyPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || h == nil {
			logger.Debug("Ignoring key message", "conn", c.id, "error", err)
			return
		}
		h.KeyDown(p.Code)
	case EventPointer:
		var p PointerPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || h == nil {
			logger.Debug("Ignoring pointer message", "conn", c.id, "error", err)
			return
		}
		kind, err := input.ParsePointerKind(p.Kind)
		if err != nil {
			logger.Debug("Ignoring pointer message", "conn", c.id, "error", err)
			return
		}
		h.Pointer(input.PointerEvent{Kind: kind, X: p.X, Y: p.Y})
	case EventResize:
		var p ResizePayload
		if err := json.Unmarshal(env.Data, &p); err != nil || h == nil {
			logger.Debug("Ignoring resize message", "conn", c.id, "error", err)
			return
		}
		h.Resize(p.Width, p.Height)
	default:
		logger.Debug("Unknown settings message", "conn", c.id, "event", env.Event)
	}
}

// Close stops the listener and drops all clients.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.httpServer
	conns := s.conns
	s.conns = make(map[string]*serverConn)
	s.httpServer = nil
	s.listener = nil
	sub := s.sub
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	s.channel.Unsubscribe(sub)
	err := srv.Close()
	for _, c := range conns {
		c.ws.Close()
	}
	return err
}
