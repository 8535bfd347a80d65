// Package upstream connects a session to the block-game server and runs the
// login handshake.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/VoxelSrv/VoxelCraftProxy/internal/protocol"
)

const (
	DialTimeout  = 10 * time.Second
	WriteTimeout = 10 * time.Second

	packetQueue = 256

	// nextStateLogin is the handshake value selecting the login state.
	nextStateLogin int32 = 2
)

var (
	// ErrClosed is returned by Write after Close.
	ErrClosed = errors.New("upstream connection is closed")
	// ErrOnlineMode is the terminal error when the server asks for encryption.
	ErrOnlineMode = errors.New("online mode is not supported")
)

// Options describes the upstream target and login identity.
type Options struct {
	Host     string
	Port     int
	Username string
	// Password is never sent: offline login carries only the username. It
	// is consulted when the server asks for encryption to report that the
	// configured account could not be used.
	Password    string
	DialTimeout time.Duration
}

// Client is one upstream connection. A reader goroutine decodes packets
// into Packets; Write may be called from any goroutine.
type Client struct {
	conn   net.Conn
	framer *protocol.Framer
	parser *protocol.Parser
	logger zerolog.Logger

	writeMu sync.Mutex

	packets   chan protocol.Packet
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error

	state      atomic.Int32
	packetsIn  atomic.Uint64
	packetsOut atomic.Uint64

	hasPassword bool
}

// Dial connects to the server, sends the handshake and login start, and
// starts the reader. Login completes asynchronously: LoginSuccess,
// LoginDisconnect and LoginPluginRequest are delivered on Packets.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = DialTimeout
	}

	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to upstream at %s: %w", addr, err)
	}

	c := newClient(conn)
	c.hasPassword = opts.Password != ""
	c.logger = c.logger.With().Str("upstream", addr).Str("username", opts.Username).Logger()

	handshake := protocol.Handshake{
		ProtocolVersion: protocol.ProtocolVersion,
		Host:            opts.Host,
		Port:            uint16(opts.Port),
		NextState:       nextStateLogin,
	}
	if err := c.Write(handshake); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to send handshake: %w", err)
	}
	if err := c.Write(protocol.LoginStart{Username: opts.Username}); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to send login start: %w", err)
	}

	c.logger.Info().Msg("upstream login started")

	go c.readLoop()
	return c, nil
}

func newClient(conn net.Conn) *Client {
	c := &Client{
		conn:    conn,
		framer:  protocol.NewFramer(conn, conn),
		parser:  protocol.NewParser(),
		packets: make(chan protocol.Packet, packetQueue),
		done:    make(chan struct{}),
		logger:  log.With().Str("component", "upstream").Logger(),
	}
	c.state.Store(int32(protocol.StateLogin))
	return c
}

// Write marshals and sends a serverbound packet.
func (c *Client) Write(p protocol.Serverbound) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if err := c.framer.WritePacket(protocol.Marshal(p)); err != nil {
		return fmt.Errorf("failed to write %s: %w", p.Name(), err)
	}
	c.packetsOut.Add(1)

	c.logger.Trace().Str("packet", p.Name()).Msg("sent upstream packet")
	return nil
}

// Packets returns decoded clientbound packets. It is closed when the
// connection ends; Err then reports why.
func (c *Client) Packets() <-chan protocol.Packet {
	return c.packets
}

// Err returns the terminal error, or nil for a clean end of stream or a
// local Close.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close releases the connection. Calling it again is a no-op.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// State returns the current connection state.
func (c *Client) State() protocol.State {
	return protocol.State(c.state.Load())
}

// PacketCounts returns decoded inbound and written outbound packet totals.
func (c *Client) PacketCounts() (in, out uint64) {
	return c.packetsIn.Load(), c.packetsOut.Load()
}

func (c *Client) fail(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}

func (c *Client) readLoop() {
	defer close(c.packets)
	defer c.Close()
	defer func() {
		in, out := c.PacketCounts()
		c.logger.Debug().Uint64("packets_in", in).Uint64("packets_out", out).Msg("upstream reader stopped")
	}()

	for {
		data, err := c.framer.ReadPacket()
		if err != nil {
			if !c.closed.Load() && !errors.Is(err, io.EOF) {
				c.fail(err)
				c.logger.Debug().Err(err).Msg("upstream read failed")
			}
			return
		}

		if c.State() == protocol.StateLogin {
			if !c.handleLogin(data) {
				return
			}
			continue
		}

		pkt, err := c.parser.ParsePlay(data)
		if err != nil {
			c.logger.Debug().Err(err).Msg("dropping undecodable packet")
			continue
		}
		if pkt == nil {
			continue
		}
		c.packetsIn.Add(1)

		if ka, ok := pkt.(protocol.KeepAlive); ok {
			if err := c.Write(protocol.KeepAliveReply{KeepAliveID: ka.ID}); err != nil {
				c.logger.Debug().Err(err).Msg("failed to answer keep alive")
			}
			continue
		}

		if !c.deliver(pkt) {
			return
		}
	}
}

// handleLogin processes one login-state packet and reports whether the
// reader should continue.
func (c *Client) handleLogin(data []byte) bool {
	pkt, err := c.parser.ParseLogin(data)
	if err != nil {
		c.fail(err)
		return false
	}
	c.packetsIn.Add(1)

	switch p := pkt.(type) {
	case protocol.SetCompression:
		c.framer.SetCompression(p.Threshold)
		c.logger.Debug().Int32("threshold", p.Threshold).Msg("upstream compression enabled")
		return true
	case protocol.EncryptionRequest:
		if c.hasPassword {
			c.fail(fmt.Errorf("%w: the configured password needs account authentication", ErrOnlineMode))
		} else {
			c.fail(ErrOnlineMode)
		}
		c.logger.Warn().Bool("password_configured", c.hasPassword).Msg("upstream requested encryption, refusing")
		return false
	case protocol.LoginSuccess:
		c.state.Store(int32(protocol.StatePlay))
		c.logger.Info().
			Str("uuid", p.UUID.String()).
			Str("name", p.Username).
			Msg("upstream login succeeded")
	case protocol.LoginDisconnect:
		c.deliver(p)
		return false
	}

	return c.deliver(pkt)
}

func (c *Client) deliver(pkt protocol.Packet) bool {
	select {
	case c.packets <- pkt:
		return true
	case <-c.done:
		return false
	}
}
