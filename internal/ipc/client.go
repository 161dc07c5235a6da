package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"openqr/internal/config"
	"openqr/internal/history"
	"openqr/internal/service"
)

// Common errors
var (
	ErrNotConnected     = errors.New("not connected to daemon")
	ErrConnectionLost   = errors.New("connection to daemon lost")
	ErrTimeout          = errors.New("request timeout")
	ErrDaemonNotRunning = errors.New("daemon is not running")
)

// ClientConfig configures an IPCClient.
type ClientConfig struct {
	SocketPath     string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// DefaultClientConfig returns client defaults for socketPath.
func DefaultClientConfig(socketPath string) ClientConfig {
	return ClientConfig{
		SocketPath:     socketPath,
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// IPCClient talks to a running daemon. It is safe for concurrent use.
type IPCClient struct {
	cfg  ClientConfig
	conn net.Conn

	writeMu   sync.Mutex
	pendingMu sync.Mutex
	pending   map[uint32]chan *Message
	nextReqID atomic.Uint32
	closed    atomic.Bool

	events chan service.Event
	done   chan struct{}
	wg     sync.WaitGroup
}

// Dial connects to the daemon socket.
func Dial(cfg ClientConfig) (*IPCClient, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.Dial("unix", cfg.SocketPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("%w: %s", ErrDaemonNotRunning, cfg.SocketPath)
		}
		return nil, fmt.Errorf("connect: %w", err)
	}

	c := &IPCClient{
		cfg:     cfg,
		conn:    conn,
		pending: make(map[uint32]chan *Message),
		events:  make(chan service.Event, 100),
		done:    make(chan struct{}),
	}
	c.wg.Add(1)
	go c.readLoop()
	return c, nil
}

// Close closes the connection and the event channel.
func (c *IPCClient) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.conn.Close()
	c.wg.Wait()
	return err
}

// Events returns pushed events. It is closed when the connection ends.
func (c *IPCClient) Events() <-chan service.Event {
	return c.events
}

// Done is closed when the connection ends.
func (c *IPCClient) Done() <-chan struct{} {
	return c.done
}

func (c *IPCClient) write(msg *Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return msg.Write(c.conn)
}

// request sends payload and waits for the response with the same ID. An
// MsgError response is returned as a *RemoteError.
func (c *IPCClient) request(ctx context.Context, msgType MessageType, payload any) (*Message, error) {
	if c.closed.Load() {
		return nil, ErrNotConnected
	}

	var data []byte
	if payload != nil {
		var err error
		if data, err = Encode(payload); err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}

	reqID := c.nextReqID.Add(1)
	respChan := make(chan *Message, 1)
	c.pendingMu.Lock()
	if c.pending == nil {
		c.pendingMu.Unlock()
		return nil, ErrConnectionLost
	}
	c.pending[reqID] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	if err := c.write(NewMessage(msgType, reqID, data)); err != nil {
		return nil, fmt.Errorf("write message: %w", err)
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-respChan:
		if !ok {
			return nil, ErrConnectionLost
		}
		if resp.Header.Type == MsgError {
			var er ErrorResponse
			if err := Decode(resp.Payload, &er); err != nil {
				return nil, fmt.Errorf("decode error response: %w", err)
			}
			return nil, &RemoteError{Code: er.Code, Message: er.Message}
		}
		return resp, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *IPCClient) call(ctx context.Context, msgType, want MessageType, req, resp any) error {
	msg, err := c.request(ctx, msgType, req)
	if err != nil {
		return err
	}
	if msg.Header.Type != want {
		return fmt.Errorf("unexpected response type: 0x%04x", uint16(msg.Header.Type))
	}
	if resp == nil {
		return nil
	}
	return Decode(msg.Payload, resp)
}

func (c *IPCClient) readLoop() {
	defer c.wg.Done()
	defer func() {
		c.pendingMu.Lock()
		for _, ch := range c.pending {
			close(ch)
		}
		c.pending = nil
		c.pendingMu.Unlock()
		close(c.events)
		close(c.done)
	}()

	for {
		msg, err := ReadMessage(c.conn)
		if err != nil {
			return
		}

		switch msg.Header.Type {
		case MsgPing:
			c.write(NewMessage(MsgPong, msg.Header.RequestID, nil))
		case MsgEvent:
			var ev service.Event
			if err := Decode(msg.Payload, &ev); err == nil {
				select {
				case c.events <- ev:
				default:
				}
			}
		default:
			c.pendingMu.Lock()
			if ch, ok := c.pending[msg.Header.RequestID]; ok {
				select {
				case ch <- msg:
				default:
				}
			}
			c.pendingMu.Unlock()
		}
	}
}

// Ping checks that the daemon answers.
func (c *IPCClient) Ping(ctx context.Context) error {
	return c.call(ctx, MsgPing, MsgPong, nil, nil)
}

// Status returns the daemon status.
func (c *IPCClient) Status(ctx context.Context) (service.Status, error) {
	var st service.Status
	err := c.call(ctx, MsgStatus, MsgStatusResp, nil, &st)
	return st, err
}

// Metrics returns the daemon's pipeline metrics.
func (c *IPCClient) Metrics(ctx context.Context) (MetricsResponse, error) {
	var resp MetricsResponse
	err := c.call(ctx, MsgMetrics, MsgMetricsResp, nil, &resp)
	return resp, err
}

// StartListener starts keyboard capture in the daemon.
func (c *IPCClient) StartListener(ctx context.Context) (bool, error) {
	var resp ListenerResponse
	err := c.call(ctx, MsgStartListener, MsgListenerResp, nil, &resp)
	return resp.Active, err
}

// StopListener stops keyboard capture in the daemon.
func (c *IPCClient) StopListener(ctx context.Context) (bool, error) {
	var resp ListenerResponse
	err := c.call(ctx, MsgStopListener, MsgListenerResp, nil, &resp)
	return resp.Active, err
}

// ProcessScan normalizes, validates and records raw.
func (c *IPCClient) ProcessScan(ctx context.Context, raw string) (service.ScanResult, error) {
	var res service.ScanResult
	err := c.call(ctx, MsgProcessScan, MsgProcessScanResp, &ProcessScanRequest{Raw: raw}, &res)
	return res, err
}

// CheckURL runs the domain gate and returns the accepted host.
func (c *IPCClient) CheckURL(ctx context.Context, url string) (string, error) {
	var resp CheckURLResponse
	err := c.call(ctx, MsgCheckURL, MsgCheckURLResp, &CheckURLRequest{URL: url}, &resp)
	return resp.Host, err
}

// History lists stored scans, newest first.
func (c *IPCClient) History(ctx context.Context) ([]history.Record, error) {
	var resp GetHistoryResponse
	err := c.call(ctx, MsgGetHistory, MsgGetHistoryResp, nil, &resp)
	return resp.Records, err
}

// AddScan appends rec to the daemon's history.
func (c *IPCClient) AddScan(ctx context.Context, rec history.Record) error {
	return c.call(ctx, MsgAddScan, MsgHistoryAck, &AddScanRequest{Record: rec}, nil)
}

// ClearHistory removes every stored scan.
func (c *IPCClient) ClearHistory(ctx context.Context) error {
	return c.call(ctx, MsgClearHistory, MsgHistoryAck, nil, nil)
}

// MigrateHistory copies history between storage methods.
func (c *IPCClient) MigrateHistory(ctx context.Context, from, to string) (int, error) {
	var resp MigrateHistoryResponse
	err := c.call(ctx, MsgMigrateHistory, MsgMigrateResp, &MigrateHistoryRequest{From: from, To: to}, &resp)
	return resp.Migrated, err
}

// Config returns the daemon's current configuration.
func (c *IPCClient) Config(ctx context.Context) (*config.Config, error) {
	var resp ConfigPayload
	err := c.call(ctx, MsgGetConfig, MsgGetConfigResp, nil, &resp)
	return resp.Config, err
}

// SaveConfig validates, persists and applies cfg in the daemon.
func (c *IPCClient) SaveConfig(ctx context.Context, cfg *config.Config) (*config.Config, error) {
	var resp ConfigPayload
	err := c.call(ctx, MsgSetConfig, MsgSetConfigResp, &ConfigPayload{Config: cfg}, &resp)
	return resp.Config, err
}

// Subscribe asks for the named events, or all events when none are given.
// They arrive on Events.
func (c *IPCClient) Subscribe(ctx context.Context, events ...string) error {
	return c.call(ctx, MsgSubscribe, MsgSubscribeResp, &SubscribeRequest{Events: events}, nil)
}

// Unsubscribe stops event delivery.
func (c *IPCClient) Unsubscribe(ctx context.Context) error {
	return c.call(ctx, MsgUnsubscribe, MsgUnsubscribeResp, nil, nil)
}
