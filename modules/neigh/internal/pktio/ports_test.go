package pktio

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/afpacket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/net/bpf"

	"github.com/yanet-platform/neighd/modules/neigh/internal/neigh"
)

type fakeSocket struct {
	name   string
	filter []bpf.Instruction
	rx     chan []byte

	mu      sync.Mutex
	written [][]byte
	closed  bool
}

func (m *fakeSocket) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	select {
	case frame := <-m.rx:
		return frame, gopacket.CaptureInfo{CaptureLength: len(frame), Length: len(frame)}, nil
	case <-time.After(5 * time.Millisecond):
		return nil, gopacket.CaptureInfo{}, afpacket.ErrTimeout
	}
}

func (m *fakeSocket) WritePacketData(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("socket is closed")
	}
	m.written = append(m.written, frame)
	return nil
}

func (m *fakeSocket) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
}

func (m *fakeSocket) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closed
}

type fakeOpener struct {
	mu      sync.Mutex
	sockets map[string]*fakeSocket
}

func (m *fakeOpener) Open(name string, filter []bpf.Instruction) (Socket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if name == "missing" {
		return nil, errors.New("no such device")
	}

	socket := &fakeSocket{name: name, filter: filter, rx: make(chan []byte, 16)}
	m.sockets[name] = socket
	return socket, nil
}

func (m *fakeOpener) Socket(name string) *fakeSocket {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.sockets[name]
}

type received struct {
	port  neigh.PortID
	frame []byte
}

func newTestPorts(t *testing.T) (*Ports, *fakeOpener, chan received) {
	t.Helper()

	opener := &fakeOpener{sockets: map[string]*fakeSocket{}}
	frames := make(chan received, 16)
	ports := NewPorts(DefaultConfig(), func(port neigh.PortID, frame []byte) {
		frames <- received{port: port, frame: frame}
	}, WithOpener(opener.Open))

	return ports, opener, frames
}

func TestPorts_Receive(t *testing.T) {
	defer goleak.VerifyNone(t)

	ports, opener, frames := newTestPorts(t)
	defer ports.Close()

	require.NoError(t, ports.Attach(3, "swp3", ModeReceive))
	socket := opener.Socket("swp3")
	require.NotNil(t, socket)
	assert.Len(t, socket.filter, len(NeighbourFilter()))

	socket.rx <- []byte{0x01, 0x02}

	select {
	case frame := <-frames:
		assert.Equal(t, neigh.PortID(3), frame.port)
		assert.Equal(t, []byte{0x01, 0x02}, frame.frame)
	case <-time.After(time.Second):
		t.Fatal("frame was not delivered")
	}
}

func TestPorts_Transmit(t *testing.T) {
	defer goleak.VerifyNone(t)

	ports, opener, _ := newTestPorts(t)
	defer ports.Close()

	require.NoError(t, ports.Attach(100, "vlan10", ModeTransmit))
	assert.Equal(t, DropFilter(), opener.Socket("vlan10").filter)

	require.NoError(t, ports.Transmit(100, []byte{0xff}))
	assert.Equal(t, [][]byte{{0xff}}, opener.Socket("vlan10").written)

	err := ports.Transmit(4, []byte{0xff})
	require.ErrorIs(t, err, ErrUnknownPort)
}

func TestPorts_Detach(t *testing.T) {
	defer goleak.VerifyNone(t)

	ports, opener, _ := newTestPorts(t)
	defer ports.Close()

	require.NoError(t, ports.Attach(1, "swp1", ModeReceive))
	require.NoError(t, ports.Attach(2, "swp2", ModeReceive))
	assert.Equal(t, []neigh.PortID{1, 2}, ports.Attached())

	assert.True(t, ports.Detach(1))
	assert.False(t, ports.Detach(1))
	assert.True(t, opener.Socket("swp1").Closed())
	assert.Equal(t, []neigh.PortID{2}, ports.Attached())

	require.NoError(t, ports.Close())
	assert.True(t, opener.Socket("swp2").Closed())
	assert.Empty(t, ports.Attached())
}

func TestPorts_Reattach(t *testing.T) {
	defer goleak.VerifyNone(t)

	ports, opener, _ := newTestPorts(t)
	defer ports.Close()

	require.NoError(t, ports.Attach(1, "swp1", ModeReceive))
	first := opener.Socket("swp1")

	require.NoError(t, ports.Attach(1, "swp1", ModeReceive))
	assert.Same(t, first, opener.Socket("swp1"))

	require.NoError(t, ports.Attach(1, "swp1", ModeTransmit))
	assert.True(t, first.Closed())
	assert.NotSame(t, first, opener.Socket("swp1"))

	err := ports.Attach(5, "missing", ModeReceive)
	require.Error(t, err)
	assert.NotContains(t, ports.Attached(), neigh.PortID(5))
}

// brokenSocket fails every read without blocking.
type brokenSocket struct {
	fakeSocket
	reads atomic.Int64
}

func (m *brokenSocket) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	m.reads.Add(1)
	return nil, gopacket.CaptureInfo{}, errors.New("network is down")
}

func TestPorts_ReadErrorsBackOff(t *testing.T) {
	defer goleak.VerifyNone(t)

	socket := &brokenSocket{}
	cfg := DefaultConfig()
	cfg.PollTimeout = 50 * time.Millisecond
	ports := NewPorts(cfg, func(neigh.PortID, []byte) {
		t.Error("unexpected frame")
	}, WithOpener(func(string, []bpf.Instruction) (Socket, error) {
		return socket, nil
	}))
	defer ports.Close()

	require.NoError(t, ports.Attach(1, "swp1", ModeReceive))
	require.Eventually(t, func() bool { return socket.reads.Load() > 0 }, time.Second, time.Millisecond)
	time.Sleep(200 * time.Millisecond)

	// Backoff starts at the poll timeout and grows, so a spinning reader
	// would be off by orders of magnitude.
	assert.Less(t, socket.reads.Load(), int64(10))

	// Detaching does not wait out the backoff.
	detached := make(chan struct{})
	go func() {
		defer close(detached)
		ports.Detach(1)
	}()
	select {
	case <-detached:
	case <-time.After(time.Second):
		t.Fatal("detach blocked")
	}
	assert.True(t, socket.Closed())
}

type endlessRing struct {
	reads int
}

func (m *endlessRing) ZeroCopyReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	m.reads++
	return []byte{0x00}, gopacket.CaptureInfo{CaptureLength: 1, Length: 1}, nil
}

type queuedRing struct {
	queued int
}

func (m *queuedRing) ZeroCopyReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	if m.queued == 0 {
		return nil, gopacket.CaptureInfo{}, afpacket.ErrTimeout
	}
	m.queued--
	return []byte{0x00}, gopacket.CaptureInfo{CaptureLength: 1, Length: 1}, nil
}

func TestDrain(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 256, cfg.RingFrames())

	ring := &endlessRing{}
	assert.Equal(t, cfg.RingFrames(), drain(ring, cfg.RingFrames()))
	assert.Equal(t, cfg.RingFrames(), ring.reads)

	assert.Equal(t, 3, drain(&queuedRing{queued: 3}, cfg.RingFrames()))
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.BlockSize = cfg.FrameSize + 1
	cfg.NumBlocks = 0
	cfg.PollTimeout = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "block_size")
	assert.Contains(t, err.Error(), "num_blocks")
	assert.Contains(t, err.Error(), "poll_timeout")
}
