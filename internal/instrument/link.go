package instrument

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/hvlab/dischargectl/internal/errors"
	"codeberg.org/hvlab/dischargectl/internal/logger"
	"codeberg.org/hvlab/dischargectl/internal/profile"
	"codeberg.org/hvlab/dischargectl/internal/scpi"
)

var errFactory = errors.New()

// Config holds dial, deadline and retry settings for a TCP link.
type Config struct {
	Address      string
	Port         int
	Timeout      time.Duration // per-request deadline
	Retries      int           // attempts beyond the first
	RetryBackoff time.Duration // fixed wait between attempts
	SettleDelay  time.Duration // pause after a function change before the level command
	VerifySets   bool          // read back function/input state after programming
}

func DefaultConfig() Config {
	return Config{
		Address:      "192.168.0.123",
		Port:         7000,
		Timeout:      5 * time.Second,
		Retries:      2,
		RetryBackoff: 250 * time.Millisecond,
		SettleDelay:  50 * time.Millisecond,
	}
}

// Link drives an electronic load over TCP. Requests are serialized:
// the protocol allows one outstanding request per connection, so every
// round trip holds the link for its full duration including retries.
type Link struct {
	cfg    Config
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	state  atomic.Int32
}

var _ Instrument = (*Link)(nil)

func NewLink(cfg Config) *Link {
	return &Link{cfg: cfg}
}

func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		return nil
	}

	return l.dialLocked(ctx)
}

func (l *Link) dialLocked(ctx context.Context) error {
	addr := net.JoinHostPort(l.cfg.Address, strconv.Itoa(l.cfg.Port))
	l.setState(Connecting)

	dialer := net.Dialer{Timeout: l.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		l.setState(Disconnected)
		return errFactory.Wrap(errors.ErrConnectionFailed, err).
			WithData(struct{ Address string }{Address: addr})
	}

	l.conn = conn
	l.reader = bufio.NewReader(conn)
	l.setState(Connected)
	logger.Debug().Str("address", addr).Msg("Instrument connected")

	return nil
}

func (l *Link) Disconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		l.setState(Disconnected)
		return nil
	}

	err := l.conn.Close()
	l.conn = nil
	l.reader = nil
	l.setState(Disconnected)
	if err != nil {
		return errFactory.Wrap(errors.ErrConnectionFailed, err)
	}

	return nil
}

func (l *Link) State() ConnectionState {
	return ConnectionState(l.state.Load())
}

func (l *Link) setState(s ConnectionState) {
	l.state.Store(int32(s))
}

// Identify queries *IDN? and parses the reply.
func (l *Link) Identify(ctx context.Context) (scpi.Identity, error) {
	reply, err := l.roundTrip(ctx, scpi.QueryIdentity, true)
	if err != nil {
		return scpi.Identity{}, err
	}

	id, err := scpi.ParseIdentity(reply)
	if err != nil {
		return scpi.Identity{}, protocolError(scpi.QueryIdentity, reply, err)
	}

	return id, nil
}

// SetMode programs the load function and its level. The function
// command needs a settle delay before the instrument accepts the level.
func (l *Link) SetMode(ctx context.Context, kind profile.StepKind, level float64) error {
	function := string(kind)

	if _, err := l.roundTrip(ctx, scpi.SetFunction(function), false); err != nil {
		return err
	}
	if err := sleepContext(ctx, l.cfg.SettleDelay); err != nil {
		return err
	}
	if _, err := l.roundTrip(ctx, scpi.SetLevel(function, level), false); err != nil {
		return err
	}

	if !l.cfg.VerifySets {
		return nil
	}

	reply, err := l.roundTrip(ctx, scpi.QueryFunction, true)
	if err != nil {
		return err
	}
	readback, err := scpi.ParseFunction(reply)
	if err != nil {
		return protocolError(scpi.QueryFunction, reply, err)
	}
	if readback != function {
		return errFactory.New(errors.ErrProtocolViolation).
			WithMessage("function readback mismatch").
			WithData(struct{ Want, Got string }{Want: function, Got: readback})
	}

	return nil
}

// SetInput switches the load input on or off.
func (l *Link) SetInput(ctx context.Context, on bool) error {
	if _, err := l.roundTrip(ctx, scpi.SetInput(on), false); err != nil {
		return err
	}

	if !l.cfg.VerifySets {
		return nil
	}

	reply, err := l.roundTrip(ctx, scpi.QueryInputState, true)
	if err != nil {
		return err
	}
	readback, err := scpi.ParseInputState(reply)
	if err != nil {
		return protocolError(scpi.QueryInputState, reply, err)
	}
	if readback != on {
		return errFactory.New(errors.ErrProtocolViolation).
			WithMessage("input state readback mismatch").
			WithData(struct{ Want, Got bool }{Want: on, Got: readback})
	}

	return nil
}

// QueryMeasurement reads voltage and current. A reply that reaches us
// but fails to parse is a protocol violation, not a transient fault,
// so it is never retried.
func (l *Link) QueryMeasurement(ctx context.Context) (Measurement, error) {
	vReply, err := l.roundTrip(ctx, scpi.QueryVoltage, true)
	if err != nil {
		return Measurement{}, err
	}
	voltage, err := scpi.ParseMeasurement(vReply, "V")
	if err != nil {
		return Measurement{}, protocolError(scpi.QueryVoltage, vReply, err)
	}

	cReply, err := l.roundTrip(ctx, scpi.QueryCurrent, true)
	if err != nil {
		return Measurement{}, err
	}
	current, err := scpi.ParseMeasurement(cReply, "A")
	if err != nil {
		return Measurement{}, protocolError(scpi.QueryCurrent, cReply, err)
	}

	return Measurement{Voltage: voltage, Current: current}, nil
}

// QueryFault drains one entry from the instrument error queue. Nil
// means the queue is empty.
func (l *Link) QueryFault(ctx context.Context) (*Fault, error) {
	reply, err := l.roundTrip(ctx, scpi.QuerySystemError, true)
	if err != nil {
		return nil, err
	}

	code, message, err := scpi.ParseSystemError(reply)
	if err != nil {
		return nil, protocolError(scpi.QuerySystemError, reply, err)
	}
	if code == 0 {
		return nil, nil
	}

	return &Fault{Code: code, Message: message}, nil
}

// roundTrip writes one request and, when wantReply is set, reads one
// terminated reply. Timeouts burn retry budget with a fixed backoff;
// other I/O failures get a single redial before the next attempt. The
// context aborts the cycle between and during attempts, so a caller
// cancelling mid-retry is never held for the remaining budget.
func (l *Link) roundTrip(ctx context.Context, request string, wantReply bool) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return "", errFactory.New(errors.ErrConnectionFailed).
			WithMessage("not connected").
			WithData(struct{ Request string }{Request: request})
	}

	attempts := l.cfg.Retries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			logger.Debug().
				Str("request", request).
				Int("attempt", attempt+1).
				Msg("Retrying instrument request")
			if err := sleepContext(ctx, l.cfg.RetryBackoff); err != nil {
				return "", err
			}
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		reply, err := l.attempt(ctx, request, wantReply)
		if err == nil {
			l.setState(Connected)
			return reply, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		lastErr = err

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			continue
		}

		// Hard I/O failure: the connection is gone. Redial once and
		// let the remaining budget retry on the fresh connection.
		if l.conn != nil {
			l.conn.Close()
			l.conn = nil
			l.reader = nil
		}
		if redialErr := l.dialLocked(ctx); redialErr != nil {
			l.setState(Faulted)
			return "", errFactory.Wrap(errors.ErrConnectionFailed, err).
				WithData(struct{ Request string }{Request: request})
		}
	}

	l.setState(Faulted)

	return "", errFactory.Wrap(errors.ErrRequestTimeout, lastErr).
		WithData(struct {
			Request  string
			Attempts int
		}{Request: request, Attempts: attempts})
}

// attempt performs one wire exchange under the per-request deadline.
// Context cancellation is translated into an immediate deadline so an
// in-flight read unblocks right away.
func (l *Link) attempt(ctx context.Context, request string, wantReply bool) (string, error) {
	deadline := time.Now().Add(l.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := l.conn.SetDeadline(deadline); err != nil {
		return "", err
	}

	conn := l.conn
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := l.conn.Write([]byte(request + scpi.Terminator)); err != nil {
		return "", err
	}
	if !wantReply {
		return "", nil
	}

	reply, err := l.reader.ReadString('\n')
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(reply), nil
}

func protocolError(request, reply string, cause error) error {
	return errFactory.Wrap(errors.ErrProtocolViolation, cause).
		WithData(struct{ Request, Reply string }{Request: request, Reply: reply})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
