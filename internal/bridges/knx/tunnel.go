package knx

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/aimx-core/internal/infrastructure/config"
	"github.com/nerrad567/aimx-core/internal/records"
)

// Tunnel constants.
const (
	// readBufferSize is the largest knxd message body we accept. A
	// declared size beyond it means the stream is desynced and the
	// tunnel cannot recover by skipping.
	readBufferSize = 256

	// telegramQueueSize bounds the receive channel. When the consumer
	// falls behind, newer telegrams are dropped and counted rather than
	// blocking the read loop.
	telegramQueueSize = 100

	// defaultSendTimeout applies to group writes whose context carries
	// no deadline.
	defaultSendTimeout = 5 * time.Second

	// closeNotifyTimeout bounds the best-effort EIBClose write during
	// graceful shutdown.
	closeNotifyTimeout = 1 * time.Second
)

// Logger is the minimal structured logging interface this package needs.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// TunnelStats is a point-in-time snapshot of tunnel counters.
type TunnelStats struct {
	TelegramsTx      uint64
	TelegramsRx      uint64
	TelegramsDropped uint64 // receive channel full
	FramesRejected   uint64 // unknown type or short group packet
	ErrorsTotal      uint64
	LastActivity     time.Time
	Connected        bool
}

// Tunnel is a single group-socket connection to a knxd-compatible
// daemon. It frames and parses knxd messages, delivers received group
// telegrams on a bounded channel, and sends group writes and reads.
//
// A Tunnel does not reconnect. When the connection fails the Done
// channel closes, Err reports the reason, and the owner decides when
// and whether to open a new one. This keeps the retry policy in one
// place instead of racing two layers of backoff.
//
// Thread Safety: all methods are safe for concurrent use.
type Tunnel struct {
	conn     net.Conn
	endpoint string

	// Serializes writes to the socket.
	writeMu sync.Mutex

	// Received write/response telegrams, bounded.
	telegrams chan Telegram

	// Closed when the tunnel is lost or closed.
	done      chan struct{}
	closeOnce sync.Once

	// Terminal failure reason. Nil after a deliberate Close.
	err   error
	errMu sync.RWMutex

	connected atomic.Bool

	// Counters
	telegramsTx      atomic.Uint64
	telegramsRx      atomic.Uint64
	telegramsDropped atomic.Uint64
	framesRejected   atomic.Uint64
	errorsTotal      atomic.Uint64
	lastActivity     atomic.Int64 // Unix seconds

	logger   Logger
	loggerMu sync.RWMutex
}

// Open dials the configured knxd endpoint and performs the group-socket
// handshake: send EIBOpenGroupCon with a zeroed three-byte payload,
// expect a confirmation of the same type. On success the receive loop
// is running and telegrams flow on Telegrams().
//
// The context bounds the dial; the handshake read is bounded by the
// configured connect timeout. Failures return an error wrapping
// ErrTunnelLost.
func Open(ctx context.Context, cfg config.KNXConfig, logger Logger) (*Tunnel, error) {
	endpoint := cfg.Endpoint()

	dialer := net.Dialer{Timeout: cfg.GetConnectTimeout()}
	conn, err := dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTunnelLost, endpoint, err)
	}

	t := &Tunnel{
		conn:      conn,
		endpoint:  endpoint,
		telegrams: make(chan Telegram, telegramQueueSize),
		done:      make(chan struct{}),
		logger:    logger,
	}

	if err := t.openGroupSocket(cfg.GetConnectTimeout()); err != nil {
		_ = conn.Close()
		return nil, err
	}

	t.connected.Store(true)
	t.touch()

	go t.receiveLoop()

	t.logInfo("knx tunnel open", "endpoint", endpoint)
	return t, nil
}

// openGroupSocket sends the open request and waits for knxd's
// confirmation.
func (t *Tunnel) openGroupSocket(timeout time.Duration) error {
	open := EncodeKNXDMessage(EIBOpenGroupCon, []byte{0x00, 0x00, 0x00})

	if err := t.conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("%w: set handshake deadline: %v", ErrTunnelLost, err)
	}

	if _, err := t.conn.Write(open); err != nil {
		return fmt.Errorf("%w: send open request: %v", ErrTunnelLost, err)
	}

	msgType, _, err := t.readMessage()
	if err != nil {
		return fmt.Errorf("%w: read open confirmation: %v", ErrTunnelLost, err)
	}
	if msgType != EIBOpenGroupCon {
		return fmt.Errorf("%w: open not confirmed (got type 0x%04X)", ErrTunnelLost, msgType)
	}

	// Clear the handshake deadline; reads now block until traffic or
	// failure.
	if err := t.conn.SetDeadline(time.Time{}); err != nil {
		return fmt.Errorf("%w: clear handshake deadline: %v", ErrTunnelLost, err)
	}

	return nil
}

// readMessage reads one complete knxd message from the socket and
// splits it into type and payload. The payload aliases an internal
// buffer and is only valid until the next call; ParseTelegram copies
// what it keeps.
func (t *Tunnel) readMessage() (uint16, []byte, error) {
	var header [2]byte
	if _, err := io.ReadFull(t.conn, header[:]); err != nil {
		return 0, nil, err
	}

	size := binary.BigEndian.Uint16(header[:])
	if size < 2 || size > readBufferSize {
		// The size field is corrupt; we no longer know where the next
		// message starts.
		return 0, nil, fmt.Errorf("stream desync: declared size %d", size)
	}

	buf := make([]byte, 2+size)
	copy(buf[0:2], header[:])
	if _, err := io.ReadFull(t.conn, buf[2:]); err != nil {
		return 0, nil, err
	}

	return ParseKNXDMessage(buf)
}

// receiveLoop reads messages until the connection fails or the tunnel
// is closed. Unusable frames are dropped and counted; read errors are
// terminal.
func (t *Tunnel) receiveLoop() {
	for {
		msgType, payload, err := t.readMessage()
		if err != nil {
			select {
			case <-t.done:
				// Deliberate close; the read error is ours.
				return
			default:
			}
			t.errorsTotal.Add(1)
			t.fail(fmt.Errorf("%w: read: %v", ErrTunnelLost, err))
			return
		}

		t.touch()

		switch msgType {
		case EIBGroupPacket:
			t.handleGroupPacket(payload)
		case EIBClose:
			t.fail(fmt.Errorf("%w: closed by knxd", ErrTunnelLost))
			return
		default:
			t.framesRejected.Add(1)
			t.logWarn("dropping unexpected frame",
				"type", fmt.Sprintf("0x%04X", msgType),
				"error", ErrUnexpectedFrame)
		}
	}
}

// handleGroupPacket parses a group telegram and queues it for the
// consumer. Read requests are other devices polling the bus; we note
// them and move on.
func (t *Tunnel) handleGroupPacket(payload []byte) {
	tg, err := ParseTelegram(payload)
	if err != nil {
		t.framesRejected.Add(1)
		t.logWarn("dropping unexpected frame", "error", err)
		return
	}

	t.telegramsRx.Add(1)

	if tg.IsRead() {
		t.logDebug("group read observed", "destination", tg.Destination.String())
		return
	}

	select {
	case t.telegrams <- tg:
	default:
		t.telegramsDropped.Add(1)
		t.logWarn("telegram queue full, dropping",
			"destination", tg.Destination.String())
	}
}

// Send writes DPT-encoded data to a group address.
//
// The context deadline bounds the socket write; without one,
// defaultSendTimeout applies. A write timeout returns ErrTimeout and
// leaves the tunnel up; any other write failure is terminal and
// returns ErrTunnelLost.
func (t *Tunnel) Send(ctx context.Context, dest records.Address, data []byte) error {
	return t.send(ctx, NewWriteTelegram(dest, data))
}

// SendRead issues a group read request. Any response arrives later on
// Telegrams() like every other bus update.
func (t *Tunnel) SendRead(ctx context.Context, dest records.Address) error {
	return t.send(ctx, NewReadTelegram(dest))
}

func (t *Tunnel) send(ctx context.Context, tg Telegram) error {
	if !t.connected.Load() {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := EncodeKNXDMessage(EIBGroupPacket, tg.Encode())

	deadline := time.Now().Add(defaultSendTimeout)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		t.errorsTotal.Add(1)
		return fmt.Errorf("%w: set write deadline: %v", ErrTunnelLost, err)
	}

	if _, err := t.conn.Write(msg); err != nil {
		t.errorsTotal.Add(1)
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return fmt.Errorf("%w: write %s: %v", ErrTimeout, tg.Destination, err)
		}
		t.fail(fmt.Errorf("%w: write: %v", ErrTunnelLost, err))
		return fmt.Errorf("%w: write %s: %v", ErrTunnelLost, tg.Destination, err)
	}

	t.telegramsTx.Add(1)
	t.touch()
	return nil
}

// Telegrams returns the channel of received write and response
// telegrams. The channel is never closed; select against Done.
func (t *Tunnel) Telegrams() <-chan Telegram {
	return t.telegrams
}

// Done returns a channel that closes when the tunnel is lost or closed.
func (t *Tunnel) Done() <-chan struct{} {
	return t.done
}

// Err reports why the tunnel ended. It returns nil while the tunnel is
// up and after a deliberate Close; after a failure it returns an error
// wrapping ErrTunnelLost.
func (t *Tunnel) Err() error {
	t.errMu.RLock()
	defer t.errMu.RUnlock()
	return t.err
}

// IsConnected reports whether the tunnel is usable.
func (t *Tunnel) IsConnected() bool {
	return t.connected.Load()
}

// Stats returns a snapshot of tunnel counters.
func (t *Tunnel) Stats() TunnelStats {
	return TunnelStats{
		TelegramsTx:      t.telegramsTx.Load(),
		TelegramsRx:      t.telegramsRx.Load(),
		TelegramsDropped: t.telegramsDropped.Load(),
		FramesRejected:   t.framesRejected.Load(),
		ErrorsTotal:      t.errorsTotal.Load(),
		LastActivity:     time.Unix(t.lastActivity.Load(), 0),
		Connected:        t.connected.Load(),
	}
}

// Close shuts the tunnel down gracefully: best-effort EIBClose notify,
// then socket close. Safe to call more than once and after a failure.
func (t *Tunnel) Close() error {
	t.closeOnce.Do(func() {
		t.connected.Store(false)

		// Tell knxd we are leaving; ignore failures, we are closing
		// the socket either way.
		t.writeMu.Lock()
		if err := t.conn.SetWriteDeadline(time.Now().Add(closeNotifyTimeout)); err == nil {
			_, _ = t.conn.Write(EncodeKNXDMessage(EIBClose, nil))
		}
		t.writeMu.Unlock()

		close(t.done)
		_ = t.conn.Close()

		t.logInfo("knx tunnel closed", "endpoint", t.endpoint)
	})
	return nil
}

// fail records the terminal error and tears the connection down. Only
// the first caller wins; later failures and Close become no-ops.
func (t *Tunnel) fail(err error) {
	t.closeOnce.Do(func() {
		t.errMu.Lock()
		t.err = err
		t.errMu.Unlock()

		t.connected.Store(false)
		close(t.done)
		_ = t.conn.Close()

		t.logWarn("knx tunnel lost", "endpoint", t.endpoint, "error", err)
	})
}

// touch records activity for the stats snapshot.
func (t *Tunnel) touch() {
	t.lastActivity.Store(time.Now().Unix())
}

// SetLogger sets the logger for the tunnel.
func (t *Tunnel) SetLogger(logger Logger) {
	t.loggerMu.Lock()
	t.logger = logger
	t.loggerMu.Unlock()
}

func (t *Tunnel) getLogger() Logger {
	t.loggerMu.RLock()
	defer t.loggerMu.RUnlock()
	return t.logger
}

func (t *Tunnel) logDebug(msg string, keysAndValues ...any) {
	if l := t.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (t *Tunnel) logInfo(msg string, keysAndValues ...any) {
	if l := t.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (t *Tunnel) logWarn(msg string, keysAndValues ...any) {
	if l := t.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}
