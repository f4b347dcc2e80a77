package pipeline

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"rovmjpeg/internal/rlog"
)

// Runtime couples one Producer to an ordered list of Consumers and drives
// the capture/receive-and-fan-out loop until either the process receives
// SIGINT/SIGTERM, the producer reaches end of stream, or a bound
// LivenessGate consumer reports it has gone away.
type Runtime struct {
	producer  Producer
	consumers []Consumer
	profile   Profile

	running atomic.Bool
}

// NewRuntime constructs a Runtime, validating the consumer count against
// MaxConsumers. It does not start anything; call Run.
func NewRuntime(producer Producer, consumers []Consumer, profileEnabled bool) (*Runtime, error) {
	if len(consumers) == 0 {
		return nil, fmt.Errorf("pipeline: at least one output is required")
	}
	if len(consumers) > MaxConsumers {
		return nil, fmt.Errorf("pipeline: %d outputs exceeds maximum of %d", len(consumers), MaxConsumers)
	}
	r := &Runtime{
		producer:  producer,
		consumers: consumers,
		profile:   Profile{Enabled: profileEnabled},
	}
	r.running.Store(true)
	return r, nil
}

// Build constructs the producer via newProducer and the consumers via
// newConsumers in order, unwinding anything already created if a later
// step fails. Callers that can build producer/consumers directly should
// use NewRuntime instead; Build exists for the CLI entrypoint where
// construction can fail partway through a list of outputs.
func Build(newProducer func() (Producer, error), newConsumers []func() (Consumer, error), profileEnabled bool) (*Runtime, error) {
	producer, err := newProducer()
	if err != nil {
		return nil, fmt.Errorf("pipeline: create producer: %w", err)
	}

	consumers := make([]Consumer, 0, len(newConsumers))
	for i, mk := range newConsumers {
		c, err := mk()
		if err != nil {
			for j := len(consumers) - 1; j >= 0; j-- {
				consumers[j].Close()
			}
			producer.Close()
			return nil, fmt.Errorf("pipeline: create output %d: %w", i, err)
		}
		consumers = append(consumers, c)
	}

	rt, err := NewRuntime(producer, consumers, profileEnabled)
	if err != nil {
		for j := len(consumers) - 1; j >= 0; j-- {
			consumers[j].Close()
		}
		producer.Close()
		return nil, err
	}
	return rt, nil
}

// Run drives the pipeline loop until shutdown. It installs its own
// SIGINT/SIGTERM handler for the duration of the call and restores the
// previous signal behavior on return.
func (r *Runtime) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			rlog.L().Info("shutdown signal received", "signal", sig.String())
			r.running.Store(false)
		case <-ctx.Done():
		}
	}()

	defer r.shutdown()

	for r.running.Load() && r.allGatesOpen() {
		ts, frame, ok, err := r.producer.Next(ctx)
		if err != nil {
			return fmt.Errorf("pipeline: producer: %w", err)
		}
		if !ok {
			break
		}

		r.profile.Update(ts)

		for _, c := range r.consumers {
			c.Accept(ctx, ts, frame)
		}

		r.producer.ReleaseIfNeeded()
	}

	return nil
}

func (r *Runtime) allGatesOpen() bool {
	for _, c := range r.consumers {
		if gate, ok := c.(LivenessGate); ok && !gate.IsOpen() {
			return false
		}
	}
	return true
}

func (r *Runtime) shutdown() {
	for _, c := range r.consumers {
		if err := c.Close(); err != nil {
			rlog.L().Warn("output close failed", "error", err)
		}
	}
	if err := r.producer.Close(); err != nil {
		rlog.L().Warn("producer close failed", "error", err)
	}
	r.profile.Report(os.Stdout)
}

// Stop requests the loop exit at the next iteration boundary, as if a
// shutdown signal had been received. Safe to call from any goroutine.
func (r *Runtime) Stop() {
	r.running.Store(false)
}
