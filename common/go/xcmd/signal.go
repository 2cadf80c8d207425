package xcmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
)

// Interrupted is returned when the process receives a termination signal.
type Interrupted struct {
	os.Signal
}

func (m Interrupted) Error() string {
	return m.String()
}

// IsInterrupted reports whether the error chain carries Interrupted.
func IsInterrupted(err error) bool {
	var interrupted Interrupted
	return errors.As(err, &interrupted)
}

// WaitInterrupted blocks until either SIGINT or SIGTERM signal is received or
// the provided context is canceled.
func WaitInterrupted(ctx context.Context) error {
	ch := make(chan os.Signal, 1)

	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(ch)

	select {
	case v := <-ch:
		return Interrupted{Signal: v}
	case <-ctx.Done():
		return ctx.Err()
	}
}
