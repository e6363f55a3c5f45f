package aimx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/aimx-core/internal/console"
	"github.com/nerrad567/aimx-core/internal/records"
)

// Server constants.
const (
	// defaultMaxConnections caps concurrent clients when the
	// configuration does not set one.
	defaultMaxConnections = 5

	// socketPermissions restricts the socket to the owning user.
	socketPermissions = 0600

	// writeTimeout bounds one frame write so a stuck client cannot pin
	// a goroutine past connection teardown.
	writeTimeout = 5 * time.Second
)

// Logger defines the logging interface used by the aimx package.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Access is a connection's permission set.
type Access struct {
	Write bool
}

// Authorizer decides a connection's access at accept time. The default
// grants every connection the configured write flag; an external
// authenticator (peer credentials, socket-adjacent token files) hooks
// in here.
type Authorizer func(conn net.Conn) Access

// ServerStats is a point-in-time snapshot of server counters.
type ServerStats struct {
	ActiveConnections int
	Accepted          uint64
	Rejected          uint64
	Requests          uint64
	Pushes            uint64
}

// ServerOptions configures a Server.
type ServerOptions struct {
	// SocketPath is the Unix socket to listen on.
	SocketPath string

	// MaxConnections caps concurrent clients. Connections beyond the
	// cap are closed immediately after accept. Defaults to 5.
	MaxConnections int

	// WriteEnabled is the default write permission for connections
	// when no Authorizer is set.
	WriteEnabled bool

	// Cache is the console state the server exposes.
	Cache *console.Cache

	// Authorizer is optional; when set it replaces the WriteEnabled
	// default per connection.
	Authorizer Authorizer

	// Logger is optional.
	Logger Logger
}

// Server answers the local record protocol on a Unix socket: framed
// JSON requests against the console cache, plus pushed events for
// watch subscriptions.
//
// Each connection is served by its own goroutine; a slow client delays
// only itself. Per-connection failures never affect other connections.
//
// Thread Safety: all methods are safe for concurrent use.
type Server struct {
	socketPath   string
	maxConns     int
	writeEnabled bool
	cache        *console.Cache
	authorizer   Authorizer

	mu    sync.Mutex
	conns map[string]*serverConn

	wg sync.WaitGroup

	accepted atomic.Uint64
	rejected atomic.Uint64
	requests atomic.Uint64
	pushes   atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewServer creates a protocol server over the given cache.
func NewServer(opts ServerOptions) (*Server, error) {
	if opts.SocketPath == "" {
		return nil, fmt.Errorf("socket path is required")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}

	maxConns := opts.MaxConnections
	if maxConns <= 0 {
		maxConns = defaultMaxConnections
	}

	return &Server{
		socketPath:   opts.SocketPath,
		maxConns:     maxConns,
		writeEnabled: opts.WriteEnabled,
		cache:        opts.Cache,
		authorizer:   opts.Authorizer,
		conns:        make(map[string]*serverConn),
		logger:       opts.Logger,
	}, nil
}

// Run binds the socket and serves until the context is cancelled. A
// socket file left by an unclean shutdown is removed before binding;
// the live socket is removed again on the way out.
func (s *Server) Run(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, socketPermissions); err != nil {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
		return fmt.Errorf("restricting socket %s: %w", s.socketPath, err)
	}

	s.logInfo("protocol server listening",
		"socket", s.socketPath, "max_connections", s.maxConns)

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		nc, err := listener.Accept()
		if err != nil {
			s.shutdown()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accept on %s: %w", s.socketPath, err)
		}
		s.accept(nc)
	}
}

// accept admits or rejects one freshly accepted connection.
func (s *Server) accept(nc net.Conn) {
	s.mu.Lock()
	if len(s.conns) >= s.maxConns {
		s.mu.Unlock()
		s.rejected.Add(1)
		s.logWarn("connection rejected", "max_connections", s.maxConns)
		_ = nc.Close()
		return
	}

	c := newServerConn(s, nc)
	s.conns[c.id] = c
	s.mu.Unlock()

	s.accepted.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.serve()
		s.removeConn(c.id)
	}()
}

func (s *Server) removeConn(id string) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}

// shutdown closes every live connection, waits for their goroutines
// and removes the socket file.
func (s *Server) shutdown() {
	s.mu.Lock()
	conns := make([]*serverConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	s.wg.Wait()

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		s.logWarn("socket cleanup failed", "socket", s.socketPath, "error", err)
	}
	s.logInfo("protocol server stopped")
}

// Stats returns a snapshot of server counters.
func (s *Server) Stats() ServerStats {
	s.mu.Lock()
	active := len(s.conns)
	s.mu.Unlock()

	return ServerStats{
		ActiveConnections: active,
		Accepted:          s.accepted.Load(),
		Rejected:          s.rejected.Load(),
		Requests:          s.requests.Load(),
		Pushes:            s.pushes.Load(),
	}
}

// SetLogger sets the logger for the server.
func (s *Server) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

func (s *Server) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

func (s *Server) logDebug(msg string, keysAndValues ...any) {
	if l := s.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (s *Server) logInfo(msg string, keysAndValues ...any) {
	if l := s.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (s *Server) logWarn(msg string, keysAndValues ...any) {
	if l := s.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

// serverConn is one client connection: a read loop on its own
// goroutine, a forwarder goroutine per watch subscription, and a write
// mutex serialising response and push frames.
type serverConn struct {
	id     string
	server *Server
	nc     net.Conn
	access Access

	writeMu sync.Mutex

	mu     sync.Mutex
	subs   map[string]*console.Subscription
	closed bool

	fwd sync.WaitGroup
}

func newServerConn(s *Server, nc net.Conn) *serverConn {
	access := Access{Write: s.writeEnabled}
	if s.authorizer != nil {
		access = s.authorizer(nc)
	}

	return &serverConn{
		id:     uuid.NewString()[:8],
		server: s,
		nc:     nc,
		access: access,
		subs:   make(map[string]*console.Subscription),
	}
}

// serve runs the connection's read loop. When it returns, every
// subscription is cancelled and every forwarder has finished.
func (c *serverConn) serve() {
	defer func() {
		c.close()
		c.fwd.Wait()
	}()

	c.server.logDebug("client connected", "conn_id", c.id, "write", c.access.Write)

	for {
		body, err := readFrame(c.nc)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed):
				c.server.logDebug("client disconnected", "conn_id", c.id)
			case errors.Is(err, errFrameTooLarge):
				// The body was never read, so the stream cannot be
				// resynchronised. Answer, then drop the connection.
				c.writeError("", fmt.Errorf("%w: frame exceeds %d bytes", ErrBadRequest, maxFrameSize))
				c.server.logWarn("oversized frame, closing client", "conn_id", c.id, "error", err)
			default:
				c.server.logWarn("frame read failed, closing client", "conn_id", c.id, "error", err)
			}
			return
		}

		var req Request
		if err := json.Unmarshal(body, &req); err != nil {
			// Framing is intact; reject this request and keep reading.
			c.writeError("", fmt.Errorf("%w: invalid request JSON: %v", ErrBadRequest, err))
			continue
		}

		c.server.requests.Add(1)
		c.handle(req)
	}
}

// handle dispatches one request. Every request gets exactly one
// response; watch writes its own so the result frame always precedes
// the subscription's first push.
func (c *serverConn) handle(req Request) {
	var (
		result any
		err    error
	)

	switch req.Method {
	case "list":
		result = c.handleList()
	case "get":
		result, err = c.handleGet(req.Params)
	case "set":
		result, err = c.handleSet(req.Params)
	case "watch":
		c.handleWatch(req)
		return
	case "ping":
		result = pingResult{Pong: true}
	default:
		err = fmt.Errorf("%w: unknown method %q", ErrBadRequest, req.Method)
	}

	if err != nil {
		c.writeError(req.ID, err)
		return
	}
	c.writeResult(req.ID, result)
}

func (c *serverConn) handleList() listResult {
	infos := c.server.cache.List()
	keys := make([]keyInfoJSON, 0, len(infos))
	for _, info := range infos {
		keys = append(keys, keyInfoFrom(info))
	}
	return listResult{Keys: keys}
}

func (c *serverConn) handleGet(raw json.RawMessage) (any, error) {
	var p getParams
	if err := unmarshalParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Key == "" {
		return nil, fmt.Errorf("%w: key is required", ErrBadRequest)
	}

	info, ok := c.server.cache.Info(p.Key)
	if !ok {
		return nil, fmt.Errorf("get %q: %w", p.Key, ErrUnknownKey)
	}

	// A configured key with no observation yet is a valid answer, not
	// an error.
	res := getResult{Key: p.Key, Cached: info.Cached}
	if entry, cached := c.server.cache.Get(p.Key); cached {
		wire, err := records.EncodeWire(entry.Record)
		if err != nil {
			return nil, fmt.Errorf("get %q: %w", p.Key, err)
		}
		res.Cached = true
		res.Record = wire
		res.Sequence = entry.Sequence
		res.UpdatedAt = entry.UpdatedAt.Format(time.RFC3339)
	}
	return res, nil
}

func (c *serverConn) handleSet(raw json.RawMessage) (any, error) {
	var p setParams
	if err := unmarshalParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Key == "" {
		return nil, fmt.Errorf("%w: key is required", ErrBadRequest)
	}

	info, ok := c.server.cache.Info(p.Key)
	if !ok {
		return nil, fmt.Errorf("set %q: %w", p.Key, ErrUnknownKey)
	}
	if !c.access.Write {
		return nil, fmt.Errorf("set %q: connection is read-only: %w", p.Key, ErrPermissionDenied)
	}
	if !info.Writable {
		return nil, fmt.Errorf("%w: key %q is not controllable", ErrBadRequest, p.Key)
	}

	rec, err := recordFromValue(info.Kind, p.Value)
	if err != nil {
		return nil, fmt.Errorf("set %q: %w", p.Key, err)
	}

	if err := c.server.cache.Set(p.Key, rec); err != nil {
		return nil, err
	}
	return setResult{OK: true}, nil
}

// recordFromValue parses a set value against the key's kind. The
// record's address stays zero; the cache fills it from the binding.
func recordFromValue(kind records.Kind, raw json.RawMessage) (records.Record, error) {
	switch kind {
	case records.KindSwitchControl:
		if len(raw) == 0 {
			return records.Record{}, fmt.Errorf("%w: value is required", ErrBadRequest)
		}
		var v switchValue
		if err := json.Unmarshal(raw, &v); err != nil {
			return records.Record{}, fmt.Errorf("%w: invalid switch value: %v", ErrBadRequest, err)
		}
		if v.IsOn == nil {
			return records.Record{}, fmt.Errorf("%w: switch value requires is_on", ErrBadRequest)
		}
		return records.NewSwitchControl(records.Address{}, *v.IsOn), nil
	default:
		return records.Record{}, fmt.Errorf("%w: kind %q accepts no value", ErrBadRequest, kind)
	}
}

// handleWatch opens a subscription and writes its own response so the
// result frame is on the wire before the forwarder starts pushing.
func (c *serverConn) handleWatch(req Request) {
	var p watchParams
	if err := unmarshalParams(req.Params, &p); err != nil {
		c.writeError(req.ID, err)
		return
	}
	if p.Key == "" {
		c.writeError(req.ID, fmt.Errorf("%w: key is required", ErrBadRequest))
		return
	}
	if p.CountLimit < 0 {
		c.writeError(req.ID, fmt.Errorf("%w: count_limit cannot be negative", ErrBadRequest))
		return
	}
	if req.ID == "" {
		// Pushed events carry the watch request id as their
		// subscription id, so an id is mandatory here.
		c.writeError(req.ID, fmt.Errorf("%w: watch requires a request id", ErrBadRequest))
		return
	}

	c.mu.Lock()
	_, exists := c.subs[req.ID]
	c.mu.Unlock()
	if exists {
		c.writeError(req.ID, fmt.Errorf("%w: watch id %q already active", ErrBadRequest, req.ID))
		return
	}

	sub, err := c.server.cache.Subscribe(p.Key, 0)
	if err != nil {
		if errors.Is(err, console.ErrUnknownKey) {
			err = fmt.Errorf("watch %q: %w", p.Key, ErrUnknownKey)
		}
		c.writeError(req.ID, err)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.Cancel()
		return
	}
	c.subs[req.ID] = sub
	c.mu.Unlock()

	c.writeResult(req.ID, watchResult{Watching: true, Key: p.Key})

	c.fwd.Add(1)
	go c.forward(req.ID, sub, p.CountLimit, p.Full)
}

// forward pushes one subscription's events until it is cancelled, the
// connection fails, or the count limit is reached. The limit counts
// deliveries exactly; no closing notice follows the last one.
func (c *serverConn) forward(id string, sub *console.Subscription, countLimit int, full bool) {
	defer c.fwd.Done()
	defer func() {
		sub.Cancel()
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}()

	delivered := 0
	for ev := range sub.Events() {
		record, err := pushRecord(ev.Key, ev.Record, full)
		if err != nil {
			c.server.logWarn("push encode failed",
				"conn_id", c.id, "key", ev.Key, "error", err)
			continue
		}

		push := Push{
			SubscriptionID: id,
			Sequence:       ev.Sequence,
			Record:         record,
			Missed:         ev.Missed,
		}
		if err := c.writeJSON(push); err != nil {
			c.server.logDebug("push write failed, closing client",
				"conn_id", c.id, "error", err)
			c.close()
			return
		}
		c.server.pushes.Add(1)

		delivered++
		if countLimit > 0 && delivered >= countLimit {
			return
		}
	}
}

func (c *serverConn) writeResult(id string, result any) {
	if err := c.writeJSON(Response{ID: id, Result: result}); err != nil {
		c.server.logDebug("response write failed", "conn_id", c.id, "error", err)
		c.close()
	}
}

func (c *serverConn) writeError(id string, reqErr error) {
	resp := Response{
		ID:    id,
		Error: &WireError{Code: errorCode(reqErr), Message: reqErr.Error()},
	}
	if err := c.writeJSON(resp); err != nil {
		c.server.logDebug("response write failed", "conn_id", c.id, "error", err)
		c.close()
	}
}

// writeJSON frames and writes one message. The mutex keeps response
// and push frames from interleaving.
func (c *serverConn) writeJSON(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.nc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	return writeFrame(c.nc, body)
}

// close tears the connection down: subscriptions cancelled, socket
// closed. Idempotent; safe from any goroutine.
func (c *serverConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := make([]*console.Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
	_ = c.nc.Close()
}

func unmarshalParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: invalid params: %v", ErrBadRequest, err)
	}
	return nil
}
