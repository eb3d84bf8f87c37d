package correlator

import (
	"context"
	"errors"
	"time"

	"github.com/moroshma/AssetRelay/pkg/logger"
	"github.com/moroshma/AssetRelay/pkg/relayclient"
)

// ErrTimeout is returned when no matching event arrived in time
var ErrTimeout = errors.New("timed out waiting for outcome event")

// Outcome of one Await
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeError
	OutcomeUnknown
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "resolved_success"
	case OutcomeError:
		return "resolved_error"
	case OutcomeUnknown:
		return "resolved_unknown"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "invalid"
	}
}

// Result of one Await
type Result struct {
	RequestID string
	Outcome   Outcome
	Entry     *Entry
}

// Config represents correlator configuration
type Config struct {
	PollInterval time.Duration
	Timeout      time.Duration // zero waits until ctx ends
}

// Correlator polls a Buffer for awaited request ids
type Correlator struct {
	buf    *Buffer
	cfg    Config
	logger *logger.Logger
}

var _ relayclient.Handler = (*Correlator)(nil)

// New creates a correlator over buf
func New(buf *Buffer, cfg Config, log *logger.Logger) *Correlator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Correlator{buf: buf, cfg: cfg, logger: log}
}

// Buffer returns the underlying buffer
func (c *Correlator) Buffer() *Buffer {
	return c.buf
}

// HandleFrame stores a relayed frame so pollers can find it
func (c *Correlator) HandleFrame(f relayclient.Frame) {
	id, err := c.buf.Put(f.Data)
	if err != nil {
		c.logger.Debug("Ignoring relayed event", logger.Error(err))
		return
	}
	c.logger.Debug("Buffered relayed event", logger.String("request_id", id))
}

// Await polls for requestID every PollInterval. A found entry is removed
// from the buffer and resolved by its HasErrors flag. When Timeout elapses
// first the result is OutcomeUnknown with ErrTimeout; when ctx ends it is
// OutcomeCancelled with ctx.Err(). The poll timer is released on return.
func (c *Correlator) Await(ctx context.Context, requestID string) (Result, error) {
	res := Result{RequestID: requestID}

	var deadline <-chan time.Time
	if c.cfg.Timeout > 0 {
		timer := time.NewTimer(c.cfg.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if entry, ok := c.buf.Take(requestID); ok {
			res.Entry = &entry
			res.Outcome = OutcomeSuccess
			if entry.Payload.HasErrors {
				res.Outcome = OutcomeError
			}
			c.logger.Info("Correlated outcome event",
				logger.String("request_id", requestID),
				logger.String("outcome", res.Outcome.String()),
			)
			return res, nil
		}

		select {
		case <-ticker.C:
		case <-deadline:
			res.Outcome = OutcomeUnknown
			c.logger.Warn("No outcome event before timeout",
				logger.String("request_id", requestID),
				logger.Duration("timeout", c.cfg.Timeout),
			)
			return res, ErrTimeout
		case <-ctx.Done():
			res.Outcome = OutcomeCancelled
			return res, ctx.Err()
		}
	}
}
