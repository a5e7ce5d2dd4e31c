// Package ircconn is the per-network connection/IO loop: a TCP-or-TLS
// socket, a line framer, a paced send queue and a ping scheduler, shared
// by every protocol driver regardless of which wire grammar it speaks.
// Outgoing lines go through a buffered queue drained by a dedicated
// worker goroutine, throttled with golang.org/x/time/rate so a burst of
// relayed traffic cannot flood an uplink.
package ircconn

import (
	"bufio"
	"context"
	"crypto/sha1"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ircrelay/relayd/internal/ircerr"
	"github.com/ircrelay/relayd/internal/logx"
	"github.com/ircrelay/relayd/internal/rfc1459"
)

// Options configures a Conn's dial and runtime behaviour.
type Options struct {
	Network string // network name, for error attribution
	Addr    string // host:port
	TLS     bool
	TLSFingerprint string // expected SHA1 hex of the peer cert, "" to skip pinning
	TLSInsecureSkipVerify bool
	TLSCertFile string // client certificate presented to the uplink (SASL EXTERNAL)
	TLSKeyFile  string

	DialTimeout  time.Duration // default 10s
	WriteTimeout time.Duration // per-write deadline, default 10s
	ReadIdleTimeout time.Duration // no line received in this long => dead, default 2*PingFreq

	SendRatePerSec float64 // sustained lines/sec, default 10
	SendBurst      int     // default 20
	SendQueueSize  int     // default 256

	PingFreq time.Duration // default 90s
}

func (o Options) withDefaults() Options {
	if o.DialTimeout == 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingFreq == 0 {
		o.PingFreq = 90 * time.Second
	}
	if o.ReadIdleTimeout == 0 {
		o.ReadIdleTimeout = 2 * o.PingFreq
	}
	if o.SendRatePerSec == 0 {
		o.SendRatePerSec = 10
	}
	if o.SendBurst == 0 {
		o.SendBurst = 20
	}
	if o.SendQueueSize == 0 {
		o.SendQueueSize = 256
	}
	return o
}

// Conn is one live (or dialling) connection to a remote IRC server.
// SawEndburst records whether a full burst has been received at least
// once on this connection:
// it gates whether a later disconnect is treated as a "was_successful"
// netsplit worth relaying, versus a failed initial handshake.
type Conn struct {
	opts Options
	log  *logx.Logger

	mu           sync.RWMutex
	conn         net.Conn
	reader       *bufio.Reader
	closed       chan struct{}
	closeOnce    sync.Once
	lastLineAt   time.Time
	SawEndburst  bool

	sendQueue chan string
	limiter   *rate.Limiter

	lastPingSentAt time.Time
	pongWait       chan struct{}
}

// Dial opens the TCP (optionally TLS) connection described by opts. If
// opts.TLSFingerprint is set, the peer leaf certificate's SHA1 fingerprint
// must match it (hex, case-insensitive) or Dial fails — certificate-chain
// verification can be skipped in that mode since pinning supersedes it.
func Dial(ctx context.Context, opts Options, log *logx.Logger) (*Conn, error) {
	opts = opts.withDefaults()

	dialer := &net.Dialer{Timeout: opts.DialTimeout}

	var raw net.Conn
	var err error
	if opts.TLS {
		tlsCfg := &tls.Config{InsecureSkipVerify: opts.TLSInsecureSkipVerify || opts.TLSFingerprint != ""}
		if opts.TLSCertFile != "" && opts.TLSKeyFile != "" {
			cert, lerr := tls.LoadX509KeyPair(opts.TLSCertFile, opts.TLSKeyFile)
			if lerr != nil {
				return nil, ircerr.Wrap(ircerr.KindTransientIO, opts.Network, lerr, "loading client certificate")
			}
			tlsCfg.Certificates = []tls.Certificate{cert}
		}
		raw, err = tls.DialWithDialer(dialer, "tcp", opts.Addr, tlsCfg)
	} else {
		raw, err = dialer.DialContext(ctx, "tcp", opts.Addr)
	}
	if err != nil {
		return nil, ircerr.Wrap(ircerr.KindTransientIO, opts.Network, err, "dial "+opts.Addr)
	}

	if opts.TLS && opts.TLSFingerprint != "" {
		if err := verifyFingerprint(raw.(*tls.Conn), opts.TLSFingerprint, opts.Network); err != nil {
			raw.Close()
			return nil, err
		}
	}

	c := newConn(raw, opts, log)
	go c.sendWorker()
	return c, nil
}

// Wrap adapts an already-established net.Conn (e.g. one accepted by a
// listener for a server-to-server inbound link) into a Conn.
func Wrap(raw net.Conn, opts Options, log *logx.Logger) *Conn {
	c := newConn(raw, opts.withDefaults(), log)
	go c.sendWorker()
	return c
}

func newConn(raw net.Conn, opts Options, log *logx.Logger) *Conn {
	return &Conn{
		opts:       opts,
		log:        log,
		conn:       raw,
		reader:     bufio.NewReaderSize(raw, 16*1024),
		closed:     make(chan struct{}),
		lastLineAt: time.Now(),
		sendQueue:  make(chan string, opts.SendQueueSize),
		limiter:    rate.NewLimiter(rate.Limit(opts.SendRatePerSec), opts.SendBurst),
		pongWait:   make(chan struct{}, 1),
	}
}

func verifyFingerprint(tc *tls.Conn, want, network string) error {
	state := tc.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return ircerr.New(ircerr.KindProtocol, network, "no peer certificate presented")
	}
	sum := sha1.Sum(state.PeerCertificates[0].Raw)
	got := hex.EncodeToString(sum[:])
	if !strings.EqualFold(got, want) {
		return ircerr.New(ircerr.KindProtocol, network, fmt.Sprintf("TLS fingerprint mismatch: got %s want %s", got, want))
	}
	return nil
}

// Send enqueues a pre-serialized line for transmission. Newlines embedded
// in the line are stripped defensively (the caller should already have
// done this at argument-construction time, but a protocol
// driver bug must not become a line-injection bug). If the queue is full
// Send blocks for up to WriteTimeout waiting for room; if none frees up in
// that time the line is dropped and logged.
func (c *Conn) Send(line string) {
	if c == nil {
		return
	}
	line = rfc1459.StripNewlines(line)
	select {
	case <-c.closed:
		return
	case c.sendQueue <- line:
		return
	default:
	}
	timer := time.NewTimer(c.opts.WriteTimeout)
	defer timer.Stop()
	select {
	case <-c.closed:
	case c.sendQueue <- line:
	case <-timer.C:
		if c.log != nil {
			c.log.Warn("send queue full, dropping line")
		}
	}
}

func (c *Conn) sendWorker() {
	defer func() {
		if r := recover(); r != nil && c.log != nil {
			c.log.Error("panic in send worker", "panic", r)
		}
	}()
	for {
		var line string
		select {
		case <-c.closed:
			return
		case line = <-c.sendQueue:
		}
		if err := c.limiter.Wait(context.Background()); err != nil {
			return
		}
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
		if _, err := fmt.Fprintf(conn, "%s\r\n", line); err != nil {
			if c.log != nil {
				c.log.Error("write failed", "error", err)
			}
			c.Close()
			return
		}
	}
}

// ReadLine blocks for the next wire line with a read deadline of
// ReadIdleTimeout, returning an ircerr-classified TransientIO error on
// timeout or remote close.
func (c *Conn) ReadLine() (string, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	conn.SetReadDeadline(time.Now().Add(c.opts.ReadIdleTimeout))
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", ircerr.Wrap(ircerr.KindTransientIO, c.opts.Network, err, "read")
	}
	line = strings.TrimRight(line, "\r\n")

	c.mu.Lock()
	c.lastLineAt = time.Now()
	c.mu.Unlock()

	return line, nil
}

// NotePong records that a PONG (or any traffic counting as liveness, per
// the protocol driver's judgment) was seen, by posting a token on the
// connection's one-slot pong channel (a no-op if a token is already
// pending).
func (c *Conn) NotePong() {
	select {
	case c.pongWait <- struct{}{}:
	default:
	}
}

// PingScheduler runs until ctx is cancelled or the connection dies,
// sending ping at PingFreq intervals via send (so the caller's protocol
// driver controls the exact wire form, e.g. TS6's "PING :<sid>" versus
// P10's "<sid> G !<ts> <server> <ts>") and closing the connection if no
// pong/any-traffic has been observed for 2*PingFreq, the usual
// dead-connection detection rule.
func (c *Conn) PingScheduler(ctx context.Context, send func()) {
	ticker := time.NewTicker(c.opts.PingFreq)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.RLock()
			idle := time.Since(c.lastLineAt)
			c.mu.RUnlock()
			if idle > 2*c.opts.PingFreq {
				if c.log != nil {
					c.log.Warn("connection dead, no traffic", "idle", idle)
				}
				c.Close()
				return
			}
			send()
		}
	}
}

// Close shuts the connection down exactly once; safe to call concurrently
// and repeatedly.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		err = conn.Close()
	})
	return err
}

// Closed reports whether Close has run.
func (c *Conn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// RemoteAddr returns the peer address for logging.
func (c *Conn) RemoteAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn.RemoteAddr().String()
}

// Reconnector drives repeated Dial attempts with exponential backoff
// (base 2s, capped at 5m)
// until ctx is cancelled or connectFn returns nil.
// connectFn must block for the lifetime of one successful connection and
// return when it ends (cleanly or with an error); Reconnector then waits
// out the backoff and retries.
func Reconnector(ctx context.Context, log *logx.Logger, connectFn func(ctx context.Context) error) {
	backoff := 2 * time.Second
	const maxBackoff = 5 * time.Minute

	for {
		if ctx.Err() != nil {
			return
		}
		err := connectFn(ctx)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		if log != nil {
			log.Warn("connection attempt failed, retrying", "error", err, "backoff", backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
