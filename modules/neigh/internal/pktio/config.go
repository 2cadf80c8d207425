package pktio

import (
	"errors"
	"fmt"
	"time"

	"github.com/c2h5oh/datasize"
)

// Config is the packet socket configuration shared by every port.
type Config struct {
	// FrameSize is the size of a single ring frame.
	FrameSize datasize.ByteSize `yaml:"frame_size"`
	// BlockSize is the size of a ring block, a multiple of FrameSize.
	BlockSize datasize.ByteSize `yaml:"block_size"`
	// NumBlocks is the number of blocks in the ring.
	NumBlocks int `yaml:"num_blocks"`
	// PollTimeout bounds how long a reader waits for a frame, and so how
	// long detaching a port may take.
	PollTimeout time.Duration `yaml:"poll_timeout"`
}

// DefaultConfig returns the default packet socket configuration.
//
// Neighbour traffic is light, so the ring is much smaller than the
// afpacket default.
func DefaultConfig() Config {
	return Config{
		FrameSize:   4 * datasize.KB,
		BlockSize:   128 * datasize.KB,
		NumBlocks:   8,
		PollTimeout: 200 * time.Millisecond,
	}
}

// Validate checks the configuration.
func (m Config) Validate() error {
	errs := []error{}
	if m.FrameSize == 0 {
		errs = append(errs, errors.New("frame_size must be positive"))
	}
	if m.FrameSize != 0 && m.BlockSize%m.FrameSize != 0 {
		errs = append(errs, fmt.Errorf("block_size %s must be a multiple of frame_size %s", m.BlockSize.HR(), m.FrameSize.HR()))
	}
	if m.NumBlocks <= 0 {
		errs = append(errs, fmt.Errorf("num_blocks must be positive, got %d", m.NumBlocks))
	}
	if m.PollTimeout <= 0 {
		errs = append(errs, fmt.Errorf("poll_timeout must be positive, got %s", m.PollTimeout))
	}

	return errors.Join(errs...)
}

// RingFrames returns how many frames the ring holds.
func (m Config) RingFrames() int {
	if m.FrameSize == 0 {
		return 0
	}
	return m.NumBlocks * int(m.BlockSize/m.FrameSize)
}
