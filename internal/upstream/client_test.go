package upstream

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VoxelSrv/VoxelCraftProxy/internal/protocol"
)

// fakeServer accepts one upstream connection and exposes a framer over it.
type fakeServer struct {
	ln     net.Listener
	accept chan *protocol.Framer
	conns  chan net.Conn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &fakeServer{ln: ln, accept: make(chan *protocol.Framer, 1), conns: make(chan net.Conn, 1)}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		s.conns <- conn
		s.accept <- protocol.NewFramer(conn, conn)
	}()
	t.Cleanup(func() {
		ln.Close()
		select {
		case conn := <-s.conns:
			conn.Close()
		default:
		}
	})
	return s
}

func (s *fakeServer) options() Options {
	addr := s.ln.Addr().(*net.TCPAddr)
	return Options{Host: "127.0.0.1", Port: addr.Port, Username: "Steve"}
}

func (s *fakeServer) framer(t *testing.T) *protocol.Framer {
	t.Helper()
	select {
	case f := <-s.accept:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no upstream connection accepted")
		return nil
	}
}

func readID(t *testing.T, f *protocol.Framer) (int32, *bytes.Reader) {
	t.Helper()
	data, err := f.ReadPacket()
	require.NoError(t, err)
	r := bytes.NewReader(data)
	id, err := protocol.ReadVarInt(r)
	require.NoError(t, err)
	return id, r
}

func nextPacket(t *testing.T, c *Client) protocol.Packet {
	t.Helper()
	select {
	case pkt, ok := <-c.Packets():
		require.True(t, ok, "packet stream closed early: %v", c.Err())
		return pkt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet")
		return nil
	}
}

func waitClosed(t *testing.T, c *Client) {
	t.Helper()
	for {
		select {
		case _, ok := <-c.Packets():
			if !ok {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatal("packet stream never closed")
		}
	}
}

func TestDialLoginAndKeepAlive(t *testing.T) {
	srv := newFakeServer(t)

	c, err := Dial(context.Background(), srv.options())
	require.NoError(t, err)
	defer c.Close()

	f := srv.framer(t)

	id, r := readID(t, f)
	assert.Equal(t, protocol.PktHandshake, id)
	version, err := protocol.ReadVarInt(r)
	require.NoError(t, err)
	assert.Equal(t, protocol.ProtocolVersion, version)

	id, _ = readID(t, f)
	assert.Equal(t, protocol.PktLoginStart, id)

	compress := protocol.NewPacketBuilder().WriteVarInt(protocol.PktSetCompression).WriteVarInt(64)
	require.NoError(t, f.WritePacket(compress.Build()))
	f.SetCompression(64)

	playerID := uuid.New()
	success := protocol.NewPacketBuilder().
		WriteVarInt(protocol.PktLoginSuccess).
		WriteUUID(playerID).
		WriteString("Steve")
	require.NoError(t, f.WritePacket(success.Build()))

	pkt := nextPacket(t, c)
	require.IsType(t, protocol.LoginSuccess{}, pkt)
	assert.Equal(t, playerID, pkt.(protocol.LoginSuccess).UUID)
	assert.Equal(t, protocol.StatePlay, c.State())
	assert.Equal(t, int32(64), c.framer.Threshold())

	keepAlive := protocol.NewPacketBuilder().WriteVarInt(protocol.PktKeepAlive).WriteInt64(99)
	require.NoError(t, f.WritePacket(keepAlive.Build()))

	id, r = readID(t, f)
	assert.Equal(t, protocol.PktKeepAliveReply, id)
	var echoed [8]byte
	_, err = r.Read(echoed[:])
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 99}, echoed[:])

	kick := protocol.NewPacketBuilder().WriteVarInt(protocol.PktKickDisconnect).WriteString(`{"text":"bye"}`)
	require.NoError(t, f.WritePacket(kick.Build()))

	pkt = nextPacket(t, c)
	assert.Equal(t, protocol.KickDisconnect{Reason: `{"text":"bye"}`}, pkt)

	in, out := c.PacketCounts()
	assert.Equal(t, uint64(4), in, "compression, success, keep alive, kick")
	assert.Equal(t, uint64(3), out, "handshake, login start, keep alive reply")
}

func TestEncryptionRequestIsRefused(t *testing.T) {
	srv := newFakeServer(t)

	c, err := Dial(context.Background(), srv.options())
	require.NoError(t, err)
	defer c.Close()

	f := srv.framer(t)
	readID(t, f)
	readID(t, f)

	enc := protocol.NewPacketBuilder().WriteVarInt(protocol.PktEncryptionRequest).WriteString("")
	require.NoError(t, f.WritePacket(enc.Build()))

	waitClosed(t, c)
	assert.ErrorIs(t, c.Err(), ErrOnlineMode)
	assert.ErrorIs(t, c.Write(protocol.ChatSend{Message: "hi"}), ErrClosed)
}

func TestEncryptionRequestWithPassword(t *testing.T) {
	srv := newFakeServer(t)
	opts := srv.options()
	opts.Password = "hunter2"

	c, err := Dial(context.Background(), opts)
	require.NoError(t, err)
	defer c.Close()

	f := srv.framer(t)
	id, _ := readID(t, f)
	assert.Equal(t, protocol.PktHandshake, id)
	_, login := readID(t, f)
	rest := make([]byte, login.Len())
	_, _ = login.Read(rest)
	assert.NotContains(t, string(rest), "hunter2", "offline login sends only the username")

	enc := protocol.NewPacketBuilder().WriteVarInt(protocol.PktEncryptionRequest).WriteString("")
	require.NoError(t, f.WritePacket(enc.Build()))

	waitClosed(t, c)
	assert.ErrorIs(t, c.Err(), ErrOnlineMode)
	assert.Contains(t, c.Err().Error(), "configured password")
}

func TestLoginDisconnectAndPluginRequest(t *testing.T) {
	srv := newFakeServer(t)

	c, err := Dial(context.Background(), srv.options())
	require.NoError(t, err)
	defer c.Close()

	f := srv.framer(t)
	readID(t, f)
	readID(t, f)

	plugin := protocol.NewPacketBuilder().
		WriteVarInt(protocol.PktLoginPluginRequest).
		WriteVarInt(7).
		WriteString("velocity:player_info").
		WriteBytes([]byte{1})
	require.NoError(t, f.WritePacket(plugin.Build()))

	pkt := nextPacket(t, c)
	req, ok := pkt.(protocol.LoginPluginRequest)
	require.True(t, ok)
	assert.Equal(t, int32(7), req.MessageID)

	require.NoError(t, c.Write(protocol.LoginPluginResponse{MessageID: req.MessageID}))
	id, _ := readID(t, f)
	assert.Equal(t, protocol.PktLoginPluginResponse, id)

	disconnect := protocol.NewPacketBuilder().WriteVarInt(protocol.PktLoginDisconnect).WriteString(`"whitelisted"`)
	require.NoError(t, f.WritePacket(disconnect.Build()))

	pkt = nextPacket(t, c)
	assert.Equal(t, protocol.LoginDisconnect{Reason: `"whitelisted"`}, pkt)

	waitClosed(t, c)
	assert.NoError(t, c.Err())
}

func TestDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	_, err = Dial(context.Background(), Options{Host: "127.0.0.1", Port: port, Username: "Steve", DialTimeout: time.Second})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to upstream")
}

func TestCloseIsIdempotent(t *testing.T) {
	srv := newFakeServer(t)
	c, err := Dial(context.Background(), srv.options())
	require.NoError(t, err)
	srv.framer(t)

	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
	waitClosed(t, c)
	assert.NoError(t, c.Err())
}
