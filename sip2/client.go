package sip2

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	uuid "github.com/satori/go.uuid"
)

const readBufferSize = 4096

// ClientConfig is one branch's connection profile.
type ClientConfig struct {
	Host           string
	Port           int
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	InstitutionID  string

	TLS bool
	// TLSSkipVerify accepts self signed certificates. Strict validation is
	// the zero value on purpose.
	TLSSkipVerify bool

	// ChecksumRequired rejects inbound frames whose trailer does not
	// verify. Legacy servers that omit or miscompute checksums need this
	// off.
	ChecksumRequired bool
}

// DashboardFunc receives protocol notices destined for the live dashboard
// stream. Implementations must not block; the default drops everything.
type DashboardFunc func(level, message string, details map[string]any)

// ClientOption configures a Client.
type ClientOption func(c *Client) error

// WithClientLogger replaces the default logger.
func WithClientLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) error {
		c.log = logger
		return nil
	}
}

// WithClientDashboard installs the dashboard emitter.
func WithClientDashboard(fn DashboardFunc) ClientOption {
	return func(c *Client) error {
		if fn != nil {
			c.dashboard = fn
		}
		return nil
	}
}

// pending is one in-flight request awaiting its response frame.
type pending struct {
	seq   int
	timer *time.Timer
	done  chan result
}

type result struct {
	frame string
	err   error
}

func (p *pending) complete(frame string, err error) {
	p.done <- result{frame: frame, err: err}
}

// Client speaks SIP2 over one persistent TCP or TLS connection. Responses
// are matched to requests through the trailer sequence digit, so up to ten
// requests may be outstanding; the connection manager above serializes per
// branch and in practice keeps it at one.
type Client struct {
	cfg       ClientConfig
	log       zerolog.Logger
	dashboard DashboardFunc

	mu         sync.Mutex
	conn       net.Conn
	connID     string
	connecting chan struct{}
	connectErr error
	buf        []byte
	pend       map[int]*pending
	cursor     int
	closed     bool
}

// NewClient builds a client for one branch. No connection is opened until
// the first operation needs it.
func NewClient(cfg ClientConfig, options ...ClientOption) (*Client, error) {
	c := &Client{
		cfg:       cfg,
		pend:      make(map[int]*pending),
		dashboard: func(string, string, map[string]any) {},
	}
	c.log = log.Logger.With().Str("caller", "SIP2Client").Str("host", cfg.Host).Logger()
	for _, o := range options {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Connect is idempotent: a live connection short-circuits, a connect
// already in flight is joined, otherwise a fresh dial runs under the
// configured timeout.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	if ch := c.connecting; ch != nil {
		c.mu.Unlock()
		<-ch
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.conn != nil {
			return nil
		}
		return c.connectErr
	}
	ch := make(chan struct{})
	c.connecting = ch
	c.mu.Unlock()

	conn, err := c.dial(ctx)

	c.mu.Lock()
	c.connecting = nil
	c.connectErr = err
	if err == nil {
		c.conn = conn
		c.connID = uuid.Must(uuid.NewV4()).String()
		c.buf = nil
	}
	close(ch)
	c.mu.Unlock()

	if err != nil {
		return err
	}
	c.log.Debug().Str("conn", c.connID).Msg("connected")
	go c.readLoop(conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	dctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	d := net.Dialer{}
	conn, err := d.DialContext(dctx, "tcp", addr)
	if err != nil {
		if dctx.Err() != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, ErrConnectTimeout)
		}
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if !c.cfg.TLS {
		return conn, nil
	}

	tconn := tls.Client(conn, &tls.Config{
		ServerName:         c.cfg.Host,
		InsecureSkipVerify: c.cfg.TLSSkipVerify,
		MinVersion:         tls.VersionTLS12,
	})
	if err := tconn.HandshakeContext(dctx); err != nil {
		conn.Close()
		if dctx.Err() != nil {
			return nil, fmt.Errorf("tls handshake %s: %w", addr, ErrConnectTimeout)
		}
		return nil, fmt.Errorf("tls handshake %s: %w", addr, err)
	}
	return tconn, nil
}

func (c *Client) readLoop(conn net.Conn) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			c.onData(buf[:n])
		}
		if err != nil {
			if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
				c.log.Debug().Err(err).Msg("connection closed")
			} else {
				c.log.Error().Err(err).Msg("read error")
			}
			c.cleanupPending(conn, err)
			return
		}
	}
}

// onData appends a chunk to the reassembly buffer and peels off every
// complete frame. Bytes are decoded as ISO-8859-1, which is lossless, so a
// server answering in its legacy charset never corrupts framing.
func (c *Client) onData(data []byte) {
	var frames []string
	c.mu.Lock()
	c.buf = append(c.buf, data...)
	for {
		i := bytes.IndexByte(c.buf, '\r')
		if i < 0 {
			break
		}
		raw := decodeLatin1(c.buf[:i+1])
		c.buf = c.buf[i+1:]
		msg := strings.TrimLeftFunc(strings.TrimPrefix(raw, "\n"), unicode.IsSpace)
		if strings.TrimSpace(msg) == "" {
			continue
		}
		frames = append(frames, msg)
	}
	c.mu.Unlock()

	for _, f := range frames {
		c.handleFrame(f)
	}
}

// handleFrame routes one reassembled frame to its waiting request.
func (c *Client) handleFrame(frame string) {
	verified, verr := VerifyTrailer(frame)
	if !verified {
		if c.cfg.ChecksumRequired {
			c.log.Error().Err(verr).Str("raw", frame).Msg("checksum verification failed, rejecting frame")
			c.dashboard("error", "SIP2 checksum verification failed", map[string]any{
				"host": c.cfg.Host,
				"raw":  frame,
			})
			if seq, found := ExtractSequence(frame); found {
				if p := c.takePending(seq); p != nil {
					p.timer.Stop()
					if verr != nil {
						p.complete("", fmt.Errorf("%w: %v", ErrChecksumMismatch, verr))
					} else {
						p.complete("", ErrChecksumMismatch)
					}
				}
			}
			return
		}
		c.log.Warn().Err(verr).Msg("checksum verification failed, tolerating frame")
		c.dashboard("warn", "SIP2 checksum verification failed, frame tolerated", map[string]any{
			"host": c.cfg.Host,
			"raw":  frame,
		})
	}

	if seq, found := ExtractSequence(frame); found {
		p := c.takePending(seq)
		if p == nil {
			c.log.Warn().Int("seq", seq).Msg("response for unknown sequence, dropping")
			return
		}
		p.timer.Stop()
		p.complete(frame, nil)
		return
	}

	// No sequence digit. A single outstanding request can still claim the
	// frame; with several outstanding, delivering to the wrong caller
	// would corrupt two transactions, so the frame is dropped instead.
	c.mu.Lock()
	var sole *pending
	switch len(c.pend) {
	case 0:
		c.mu.Unlock()
		c.log.Debug().Str("raw", frame).Msg("unsolicited message, dropping")
		return
	case 1:
		for seq, p := range c.pend {
			sole = p
			delete(c.pend, seq)
		}
		c.mu.Unlock()
	default:
		n := len(c.pend)
		c.mu.Unlock()
		c.log.Error().Int("pending", n).Msg("sequenceless response with multiple requests outstanding, dropping")
		return
	}
	sole.timer.Stop()
	sole.complete(frame, nil)
}

func (c *Client) takePending(seq int) *pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pend[seq]
	if p != nil {
		delete(c.pend, seq)
	}
	return p
}

// SendRaw transmits one frame and blocks until its response, a timeout or
// a connection loss. The sequence digit must match the one sealed into the
// frame's trailer.
func (c *Client) SendRaw(ctx context.Context, frame string, seq int) (string, error) {
	if err := c.Connect(ctx); err != nil {
		return "", err
	}

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return "", ErrNotConnected
	}
	if _, busy := c.pend[seq]; busy {
		c.mu.Unlock()
		return "", fmt.Errorf("sequence %d: %w", seq, ErrSequenceInUse)
	}
	p := &pending{seq: seq, done: make(chan result, 1)}
	timeout := c.cfg.RequestTimeout
	p.timer = time.AfterFunc(timeout, func() {
		q := c.takePending(seq)
		if q == nil {
			return
		}
		c.log.Warn().Int("seq", seq).Dur("timeout", timeout).Msg("request timed out, destroying connection")
		c.destroyConn(conn)
		q.complete("", fmt.Errorf("no response within %s: %w", timeout, ErrRequestTimeout))
	})
	c.pend[seq] = p
	c.mu.Unlock()

	ascii := ToASCII(frame)
	c.dashboard("info", "SIP2 request", map[string]any{
		"host": c.cfg.Host,
		"raw":  ascii,
	})

	if _, err := conn.Write([]byte(ascii)); err != nil {
		if q := c.takePending(seq); q != nil {
			q.timer.Stop()
		}
		c.destroyConn(conn)
		return "", fmt.Errorf("write: %w", err)
	}

	res := <-p.done
	return res.frame, res.err
}

// AllocSeq hands out the next free sequence digit, scanning the ten
// candidates from the cursor.
func (c *Client) AllocSeq() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < 10; i++ {
		cand := (c.cursor + i) % 10
		if _, busy := c.pend[cand]; !busy {
			c.cursor = (cand + 1) % 10
			return cand, nil
		}
	}
	return 0, ErrClientAtCapacity
}

// destroyConn drops the connection if it is still the current one and
// closes it. The read loop notices and sweeps the pending table.
func (c *Client) destroyConn(conn net.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
}

// cleanupPending rejects every outstanding request with the connection's
// terminal error and resets the reassembly buffer.
func (c *Client) cleanupPending(conn net.Conn, cause error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.buf = nil
	}
	orphans := c.pend
	c.pend = make(map[int]*pending)
	c.mu.Unlock()

	if len(orphans) == 0 {
		return
	}
	err := fmt.Errorf("connection lost: %w", cause)
	for _, p := range orphans {
		p.timer.Stop()
		p.complete("", err)
	}
}

// Disconnect closes the connection if one is open. Pending requests are
// rejected by the read loop's sweep, not here.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		c.log.Debug().Str("conn", c.connID).Msg("disconnecting")
		conn.Close()
	}
}

// Close disconnects and poisons the client; later connects fail with
// ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Disconnect()
	return nil
}

// Connected reports whether a live connection exists right now.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// PendingCount reports the number of outstanding requests.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pend)
}

// roundTrip formats, sends and hands the raw response to the caller's
// parser.
func (c *Client) roundTrip(ctx context.Context, build func(seq int) (string, error)) (string, error) {
	seq, err := c.AllocSeq()
	if err != nil {
		return "", err
	}
	frame, err := build(seq)
	if err != nil {
		return "", err
	}
	return c.SendRaw(ctx, frame, seq)
}

// Login performs the 93 handshake on sequence 0. The ACS answers 94 with a
// single ok digit; anything but 1 is a rejection the manager may retry.
func (c *Client) Login(ctx context.Context, userID, password, locationCode string) error {
	frame, err := FormatLogin(userID, password, locationCode, 0)
	if err != nil {
		return err
	}
	resp, err := c.SendRaw(ctx, frame, 0)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(resp, CodeLoginResp+"1") {
		return fmt.Errorf("login not accepted, got %q: %w", truncate(resp, 3), ErrUnexpectedResponseCode)
	}
	return nil
}

// PatronStatus runs Patron Status Request (23) -> Response (24).
func (c *Client) PatronStatus(ctx context.Context, barcode, lang string) (*PatronStatus, error) {
	resp, err := c.roundTrip(ctx, func(seq int) (string, error) {
		return FormatPatronStatus(c.cfg.InstitutionID, barcode, lang, seq)
	})
	if err != nil {
		return nil, err
	}
	return ParsePatronStatus(resp)
}

// Checkout runs Checkout Request (11) -> Response (12).
func (c *Client) Checkout(ctx context.Context, patronBarcode, itemBarcode, patronPin string) (*Checkout, error) {
	resp, err := c.roundTrip(ctx, func(seq int) (string, error) {
		return FormatCheckout(c.cfg.InstitutionID, patronBarcode, itemBarcode, patronPin, seq)
	})
	if err != nil {
		return nil, err
	}
	return ParseCheckout(resp)
}

// Checkin runs Checkin Request (09) -> Response (10).
func (c *Client) Checkin(ctx context.Context, itemBarcode string) (*Checkin, error) {
	resp, err := c.roundTrip(ctx, func(seq int) (string, error) {
		return FormatCheckin(c.cfg.InstitutionID, itemBarcode, seq)
	})
	if err != nil {
		return nil, err
	}
	return ParseCheckin(resp)
}

// ItemInformation runs Item Information Request (17) -> Response (18).
func (c *Client) ItemInformation(ctx context.Context, itemBarcode string) (*ItemInfo, error) {
	resp, err := c.roundTrip(ctx, func(seq int) (string, error) {
		return FormatItemInfo(c.cfg.InstitutionID, itemBarcode, seq)
	})
	if err != nil {
		return nil, err
	}
	return ParseItemInfo(resp)
}

// Renew runs Renew Request (29) -> Response (30), which shares the
// checkout record shape.
func (c *Client) Renew(ctx context.Context, patronBarcode, itemBarcode, patronPin string) (*Checkout, error) {
	resp, err := c.roundTrip(ctx, func(seq int) (string, error) {
		return FormatRenew(c.cfg.InstitutionID, patronBarcode, itemBarcode, patronPin, seq)
	})
	if err != nil {
		return nil, err
	}
	return ParseRenew(resp)
}

// FeePaid runs Fee Paid Request (37) -> Response (38).
func (c *Client) FeePaid(ctx context.Context, p FeePaidParams) (*FeePaid, error) {
	resp, err := c.roundTrip(ctx, func(seq int) (string, error) {
		return FormatFeePaid(c.cfg.InstitutionID, p, seq)
	})
	if err != nil {
		return nil, err
	}
	return ParseFeePaid(resp)
}

// PatronInformation runs Patron Information Request (63) -> Response (64).
func (c *Client) PatronInformation(ctx context.Context, p PatronInfoParams) (*PatronInfo, error) {
	resp, err := c.roundTrip(ctx, func(seq int) (string, error) {
		return FormatPatronInfo(c.cfg.InstitutionID, p, seq)
	})
	if err != nil {
		return nil, err
	}
	return ParsePatronInfo(resp)
}

// Hold runs Hold Request (15) -> Response (16).
func (c *Client) Hold(ctx context.Context, p HoldParams) (*Hold, error) {
	resp, err := c.roundTrip(ctx, func(seq int) (string, error) {
		return FormatHold(c.cfg.InstitutionID, p, seq)
	})
	if err != nil {
		return nil, err
	}
	return ParseHold(resp)
}

// RenewAll runs Renew All Request (65) -> Response (66).
func (c *Client) RenewAll(ctx context.Context, patronBarcode string) (*RenewAll, error) {
	resp, err := c.roundTrip(ctx, func(seq int) (string, error) {
		return FormatRenewAll(c.cfg.InstitutionID, patronBarcode, seq)
	})
	if err != nil {
		return nil, err
	}
	return ParseRenewAll(resp)
}

// EndSession runs End Session Request (35) -> Response (36).
func (c *Client) EndSession(ctx context.Context, patronBarcode string) (*EndSession, error) {
	resp, err := c.roundTrip(ctx, func(seq int) (string, error) {
		return FormatEndSession(c.cfg.InstitutionID, patronBarcode, seq)
	})
	if err != nil {
		return nil, err
	}
	return ParseEndSession(resp)
}

// SCStatus runs SC Status (99) -> ACS Status (98).
func (c *Client) SCStatus(ctx context.Context) (*ACSStatus, error) {
	resp, err := c.roundTrip(ctx, func(seq int) (string, error) {
		return FormatSCStatus(seq)
	})
	if err != nil {
		return nil, err
	}
	return ParseACSStatus(resp)
}

// ItemStatusUpdate runs Item Status Update Request (19) -> Response (20).
func (c *Client) ItemStatusUpdate(ctx context.Context, itemBarcode, securityMarker string) (*ItemStatusUpdate, error) {
	resp, err := c.roundTrip(ctx, func(seq int) (string, error) {
		return FormatItemStatusUpdate(c.cfg.InstitutionID, itemBarcode, securityMarker, seq)
	})
	if err != nil {
		return nil, err
	}
	return ParseItemStatusUpdate(resp)
}

// PatronEnable runs Patron Enable Request (25) -> Response (26), which
// shares the patron status record shape.
func (c *Client) PatronEnable(ctx context.Context, patronBarcode, patronPin string) (*PatronStatus, error) {
	resp, err := c.roundTrip(ctx, func(seq int) (string, error) {
		return FormatPatronEnable(c.cfg.InstitutionID, patronBarcode, patronPin, seq)
	})
	if err != nil {
		return nil, err
	}
	return ParsePatronEnable(resp)
}

// BlockPatron writes a Block Patron (01) frame. SIP2 defines no response
// for it, so no pending entry is installed and the call returns as soon as
// the frame is on the wire.
func (c *Client) BlockPatron(ctx context.Context, patronBarcode, message string, cardRetained bool) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	seq, err := c.AllocSeq()
	if err != nil {
		return err
	}
	frame, err := FormatBlockPatron(c.cfg.InstitutionID, patronBarcode, message, cardRetained, seq)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	ascii := ToASCII(frame)
	c.dashboard("info", "SIP2 request", map[string]any{
		"host": c.cfg.Host,
		"raw":  ascii,
	})
	if _, err := conn.Write([]byte(ascii)); err != nil {
		c.destroyConn(conn)
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
