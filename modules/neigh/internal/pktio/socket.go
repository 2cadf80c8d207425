package pktio

import (
	"fmt"
	"reflect"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/afpacket"
	"go.uber.org/zap"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// Socket is a raw packet socket bound to a single port.
type Socket interface {
	// ReadPacketData returns the next frame, or afpacket.ErrTimeout when
	// none arrived within the poll timeout. The returned slice is owned by
	// the caller.
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	WritePacketData(frame []byte) error
	Close()
}

// Opener opens a socket bound to the named port with the given filter
// attached.
type Opener func(name string, filter []bpf.Instruction) (Socket, error)

// AFPacketOpener returns an opener of TPACKET_V3 ring sockets.
func AFPacketOpener(cfg Config, log *zap.SugaredLogger) Opener {
	return func(name string, filter []bpf.Instruction) (Socket, error) {
		raw, err := bpf.Assemble(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to assemble filter: %w", err)
		}

		handle, err := afpacket.NewTPacket(
			afpacket.OptInterface(name),
			afpacket.OptFrameSize(int(cfg.FrameSize.Bytes())),
			afpacket.OptBlockSize(int(cfg.BlockSize.Bytes())),
			afpacket.OptNumBlocks(cfg.NumBlocks),
			afpacket.OptPollTimeout(cfg.PollTimeout),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create packet socket on %q: %w", name, err)
		}

		if err := handle.SetBPF(raw); err != nil {
			handle.Close()
			return nil, fmt.Errorf("failed to attach filter on %q: %w", name, err)
		}

		// Otherwise every request we send comes back to us.
		if err := unix.SetsockoptInt(socketFD(handle), unix.SOL_PACKET, unix.PACKET_IGNORE_OUTGOING, 1); err != nil {
			handle.Close()
			return nil, fmt.Errorf("failed to ignore outgoing frames on %q: %w", name, err)
		}

		// Frames queued before the filter was attached are not filtered.
		// They fit in the ring, anything past it arrived filtered.
		drained := drain(handle, cfg.RingFrames())
		log.Debugw("opened packet socket", zap.String("port", name), zap.Int("drained", drained))

		return handle, nil
	}
}

type zeroCopyReader interface {
	ZeroCopyReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

// drain discards up to limit queued frames and returns how many it read.
func drain(r zeroCopyReader, limit int) int {
	drained := 0
	for drained < limit {
		if _, _, err := r.ZeroCopyReadPacketData(); err != nil {
			break
		}
		drained++
	}
	return drained
}

// socketFD returns the descriptor of the given socket.
//
// The afpacket package does not export it.
func socketFD(handle *afpacket.TPacket) int {
	return int(reflect.ValueOf(handle).Elem().FieldByName("fd").Int())
}
