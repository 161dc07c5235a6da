package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"openqr/internal/config"
	"openqr/internal/service"
)

// Handler processes IPC messages.
type Handler interface {
	// HandleMessage processes a message and returns a response.
	HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error)
}

// HandlerFunc is a function that implements Handler.
type HandlerFunc func(ctx context.Context, client *Client, msg *Message) (*Message, error)

func (f HandlerFunc) HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	return f(ctx, client, msg)
}

// Server accepts local connections and dispatches their requests.
type Server struct {
	mu          sync.RWMutex
	listener    net.Listener
	socketPath  string
	permissions os.FileMode
	maxClients  int
	idle        time.Duration
	handler     Handler
	log         *slog.Logger
	clients     map[string]*Client
	subscribers map[string]map[string]bool

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	nextRequestID atomic.Uint32
	eventChan     chan service.Event
}

// Client is a connected peer.
type Client struct {
	mu           sync.Mutex
	ID           string
	conn         net.Conn
	ConnectedAt  time.Time
	LastActivity time.Time

	writeMu sync.Mutex
}

// ServerConfig configures the IPC server.
type ServerConfig struct {
	SocketPath  string
	Permissions os.FileMode
	MaxClients  int
	// IdleTimeout is how long a connection may stay silent before the
	// server pings it.
	IdleTimeout time.Duration
	Logger      *slog.Logger
}

// ServerConfigFrom derives a ServerConfig from the ipc settings in cfg.
func ServerConfigFrom(cfg *config.Config, dataDir string) (ServerConfig, error) {
	perm, err := cfg.SocketMode()
	if err != nil {
		return ServerConfig{}, err
	}
	return ServerConfig{
		SocketPath:  cfg.SocketPath(dataDir),
		Permissions: perm,
		MaxClients:  cfg.IPC.MaxClients,
		IdleTimeout: 60 * time.Second,
	}, nil
}

// NewServer creates an IPC server. It does not listen until Start.
func NewServer(cfg ServerConfig, handler Handler) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.Permissions == 0 {
		cfg.Permissions = 0600
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 16
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Server{
		socketPath:  cfg.SocketPath,
		permissions: cfg.Permissions,
		maxClients:  cfg.MaxClients,
		idle:        cfg.IdleTimeout,
		handler:     handler,
		log:         log.With("component", "ipc"),
		clients:     make(map[string]*Client),
		subscribers: make(map[string]map[string]bool),
		ctx:         ctx,
		cancel:      cancel,
		eventChan:   make(chan service.Event, 100),
	}
}

// Start begins listening for connections.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	if IsSocketListening(s.socketPath) {
		return fmt.Errorf("daemon already listening on %s", s.socketPath)
	}
	if err := CleanupSocket(s.socketPath); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, s.permissions); err != nil {
		listener.Close()
		return fmt.Errorf("set socket permissions: %w", err)
	}

	s.listener = listener
	s.running.Store(true)

	s.wg.Add(2)
	go s.eventBroadcaster()
	go s.acceptLoop()

	s.log.Info("ipc server listening", "socket", s.socketPath)
	return nil
}

// Stop closes the listener and every connection.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for _, client := range s.clients {
		client.conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.log.Warn("ipc server shutdown timed out")
	}

	os.Remove(s.socketPath)
	return nil
}

// SocketPath returns the socket path.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Broadcast queues an event for subscribed clients. Events are dropped when
// the queue is full.
func (s *Server) Broadcast(ev service.Event) {
	select {
	case <-s.ctx.Done():
	case s.eventChan <- ev:
	default:
		s.log.Debug("event queue full, dropping", "event", ev.Name)
	}
}

// Relay broadcasts every event read from events until it is closed or the
// server stops.
func (s *Server) Relay(events <-chan service.Event) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				s.Broadcast(ev)
			}
		}
	}()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept failed", "error", err)
			continue
		}

		if ok, err := verifyPeer(conn); !ok {
			s.log.Warn("rejecting connection from another user", "error", err)
			conn.Close()
			continue
		}

		s.mu.Lock()
		if len(s.clients) >= s.maxClients {
			s.mu.Unlock()
			s.log.Warn("connection limit reached", "max", s.maxClients)
			conn.Close()
			continue
		}
		now := time.Now()
		client := &Client{
			ID:           uuid.NewString(),
			conn:         conn,
			ConnectedAt:  now,
			LastActivity: now,
		}
		s.clients[client.ID] = client
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(client)
	}
}

func (s *Server) handleConnection(client *Client) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.clients, client.ID)
		delete(s.subscribers, client.ID)
		s.mu.Unlock()
		client.conn.Close()
	}()

	for {
		if s.ctx.Err() != nil {
			return
		}

		client.conn.SetReadDeadline(time.Now().Add(s.idle))
		msg, err := ReadMessage(client.conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.sendPing(client)
				continue
			}
			s.log.Debug("read failed", "client", client.ID, "error", err)
			return
		}

		client.mu.Lock()
		client.LastActivity = time.Now()
		client.mu.Unlock()

		response, err := s.processMessage(client, msg)
		if err != nil {
			response = NewErrorMessage(msg.Header.RequestID, errorCode(err), err.Error())
		}
		if response != nil {
			if err := s.sendMessage(client, response); err != nil {
				return
			}
		}
	}
}

func (s *Server) processMessage(client *Client, msg *Message) (*Message, error) {
	switch msg.Header.Type {
	case MsgPing:
		return NewMessage(MsgPong, msg.Header.RequestID, nil), nil
	case MsgPong:
		return nil, nil
	case MsgSubscribe:
		return s.handleSubscribe(client, msg)
	case MsgUnsubscribe:
		s.mu.Lock()
		delete(s.subscribers, client.ID)
		s.mu.Unlock()
		return NewMessage(MsgUnsubscribeResp, msg.Header.RequestID, nil), nil
	}

	if s.handler == nil {
		return NewErrorMessage(msg.Header.RequestID, CodeInvalidRequest, "no handler"), nil
	}
	return s.handler.HandleMessage(s.ctx, client, msg)
}

func (s *Server) handleSubscribe(client *Client, msg *Message) (*Message, error) {
	var req SubscribeRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, CodeInvalidRequest, "invalid subscribe request"), nil
	}

	events := make(map[string]bool, len(req.Events))
	for _, name := range req.Events {
		events[name] = true
	}

	s.mu.Lock()
	s.subscribers[client.ID] = events
	s.mu.Unlock()

	return NewMessage(MsgSubscribeResp, msg.Header.RequestID, nil), nil
}

func (s *Server) eventBroadcaster() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.eventChan:
			payload, err := Encode(ev)
			if err != nil {
				s.log.Error("encode event", "event", ev.Name, "error", err)
				continue
			}

			s.mu.RLock()
			var targets []*Client
			for clientID, events := range s.subscribers {
				if len(events) > 0 && !events[ev.Name] {
					continue
				}
				if client, ok := s.clients[clientID]; ok {
					targets = append(targets, client)
				}
			}
			s.mu.RUnlock()

			for _, client := range targets {
				msg := NewMessage(MsgEvent, s.nextRequestID.Add(1), payload)
				if err := s.sendMessage(client, msg); err != nil {
					s.log.Debug("event delivery failed", "client", client.ID, "error", err)
				}
			}
		}
	}
}

func (s *Server) sendMessage(client *Client, msg *Message) error {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return msg.Write(client.conn)
}

func (s *Server) sendPing(client *Client) {
	s.sendMessage(client, NewMessage(MsgPing, s.nextRequestID.Add(1), nil))
}
