package orchestrator

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/textproto"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// backoff computes reconnect delays with exponential growth and jitter,
// adapted from internal/sip/trunk.go's backoff (used there for SIP trunk
// registration retries, here for AMI reconnects).
type backoff struct {
	attempt   int
	baseDelay time.Duration
	maxDelay  time.Duration
}

func newBackoff() *backoff {
	return &backoff{
		baseDelay: 5 * time.Second,
		maxDelay:  5 * time.Minute,
	}
}

func (b *backoff) next() time.Duration {
	d := b.current()
	b.attempt++
	return d
}

func (b *backoff) current() time.Duration {
	d := b.baseDelay
	for i := 0; i < b.attempt; i++ {
		d *= 2
		if d > b.maxDelay {
			d = b.maxDelay
			break
		}
	}
	jitter := float64(d) * 0.2 * (2*rand.Float64() - 1)
	d += time.Duration(jitter)
	if d < 0 {
		d = b.baseDelay
	}
	return d
}

func (b *backoff) reset() {
	b.attempt = 0
}

// PBXClient is an AMI-style control connection to the PBX this broker sits
// behind. It is used for the one operation the SIP dialog itself cannot
// express: redirecting an established call to a live human extension when
// the AI session escalates (spec.md §4.4's transfer action). Grounded on
// internal/sip/trunk.go's registrationLoop/healthCheckLoop reconnect idiom;
// no teacher file implements an AMI client, so the wire protocol here is
// written from scratch in that same idiom.
type PBXClient struct {
	host     string
	port     int
	username string
	secret   string
	logger   *slog.Logger

	mu      sync.Mutex
	conn    net.Conn
	reader  *textproto.Reader
	nextID  atomic.Uint64
	pending map[string]chan amiResponse

	cmdMu sync.Mutex // serializes actions: one request in flight at a time

	connected atomic.Bool
}

// amiResponse is one AMI "Response:" block, keyed back to the command that
// requested it via its ActionID.
type amiResponse struct {
	fields map[string]string
}

func (r amiResponse) Success() bool {
	return r.fields["Response"] == "Success"
}

func (r amiResponse) Message() string {
	return r.fields["Message"]
}

// NewPBXClient creates a disconnected AMI client. Call Run to establish and
// maintain the connection.
func NewPBXClient(host string, port int, username, secret string, logger *slog.Logger) *PBXClient {
	return &PBXClient{
		host:     host,
		port:     port,
		username: username,
		secret:   secret,
		logger:   logger.With("subsystem", "pbxctl"),
		pending:  make(map[string]chan amiResponse),
	}
}

// Run maintains the AMI connection until ctx is cancelled, reconnecting
// with exponential backoff on any failure. It is meant to be run in its
// own goroutine for the lifetime of the process.
func (c *PBXClient) Run(ctx context.Context) {
	b := newBackoff()
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.connectAndServe(ctx); err != nil {
			c.connected.Store(false)
			if ctx.Err() != nil {
				return
			}
			delay := b.next()
			c.logger.Error("ami connection lost", "error", err, "retry_in", delay.String())
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		b.reset()
	}
}

// Connected reports whether the AMI session is currently logged in.
func (c *PBXClient) Connected() bool {
	return c.connected.Load()
}

func (c *PBXClient) connectAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dialing ami %s: %w", addr, err)
	}

	reader := textproto.NewReader(bufio.NewReader(conn))
	// AMI greets with a banner line before the first action may be sent.
	if _, err := reader.ReadLine(); err != nil {
		conn.Close()
		return fmt.Errorf("reading ami banner: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.reader = reader
	c.mu.Unlock()

	readErrCh := make(chan error, 1)
	go func() { readErrCh <- c.readLoop(reader) }()

	loginCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	resp, err := c.sendAction(loginCtx, map[string]string{
		"Action":   "Login",
		"Username": c.username,
		"Secret":   c.secret,
	})
	cancel()
	if err != nil || !resp.Success() {
		conn.Close()
		if err == nil {
			err = fmt.Errorf("ami login rejected: %s", resp.Message())
		}
		return err
	}

	c.connected.Store(true)
	c.logger.Info("ami session established", "host", c.host)

	select {
	case <-ctx.Done():
		c.logoff()
		conn.Close()
		return ctx.Err()
	case err := <-readErrCh:
		conn.Close()
		return err
	}
}

func (c *PBXClient) logoff() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.sendAction(ctx, map[string]string{"Action": "Logoff"})
}

// readLoop parses AMI response/event blocks (CRLF-terminated key: value
// lines, blank line terminated) until the connection closes.
func (c *PBXClient) readLoop(reader *textproto.Reader) error {
	for {
		fields := make(map[string]string)
		for {
			line, err := reader.ReadLine()
			if err != nil {
				return err
			}
			if line == "" {
				break
			}
			key, value, ok := splitAMILine(line)
			if !ok {
				continue
			}
			fields[key] = value
		}
		if len(fields) == 0 {
			continue
		}

		actionID := fields["ActionID"]
		if actionID == "" {
			continue // unsolicited event, not a response to a pending action
		}

		c.mu.Lock()
		ch, ok := c.pending[actionID]
		if ok {
			delete(c.pending, actionID)
		}
		c.mu.Unlock()

		if ok {
			ch <- amiResponse{fields: fields}
		}
	}
}

func splitAMILine(line string) (key, value string, ok bool) {
	for i := 0; i < len(line); i++ {
		if line[i] == ':' {
			key = line[:i]
			value = line[i+1:]
			if len(value) > 0 && value[0] == ' ' {
				value = value[1:]
			}
			return key, value, true
		}
	}
	return "", "", false
}

// sendAction writes one AMI action and blocks for its correlated response.
func (c *PBXClient) sendAction(ctx context.Context, fields map[string]string) (amiResponse, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return amiResponse{}, fmt.Errorf("ami: not connected")
	}
	actionID := strconv.FormatUint(c.nextID.Add(1), 10)
	ch := make(chan amiResponse, 1)
	c.pending[actionID] = ch
	c.mu.Unlock()

	fields["ActionID"] = actionID

	var buf []byte
	for k, v := range fields {
		buf = append(buf, []byte(k+": "+v+"\r\n")...)
	}
	buf = append(buf, '\r', '\n')

	if _, err := conn.Write(buf); err != nil {
		c.mu.Lock()
		delete(c.pending, actionID)
		c.mu.Unlock()
		return amiResponse{}, fmt.Errorf("ami: writing action: %w", err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, actionID)
		c.mu.Unlock()
		return amiResponse{}, ctx.Err()
	}
}

// Redirect transfers an established channel to the given extension,
// executing the deferred/immediate transfer action from §4.4.
func (c *PBXClient) Redirect(ctx context.Context, channel, extension, dialplanContext string) error {
	resp, err := c.sendAction(ctx, map[string]string{
		"Action":   "Redirect",
		"Channel":  channel,
		"Exten":    extension,
		"Context":  dialplanContext,
		"Priority": "1",
	})
	if err != nil {
		return err
	}
	if !resp.Success() {
		return fmt.Errorf("ami redirect failed: %s", resp.Message())
	}
	return nil
}

// Hangup terminates a channel directly via AMI, used when the AI session
// requests a hangup action and there is no SIP BYE in flight yet.
func (c *PBXClient) Hangup(ctx context.Context, channel string) error {
	resp, err := c.sendAction(ctx, map[string]string{
		"Action":  "Hangup",
		"Channel": channel,
	})
	if err != nil {
		return err
	}
	if !resp.Success() {
		return fmt.Errorf("ami hangup failed: %s", resp.Message())
	}
	return nil
}
