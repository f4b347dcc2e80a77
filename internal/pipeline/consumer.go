package pipeline

import "context"

// MaxConsumers bounds the number of consumers a single pipeline may bind,
// matching the fixed-size output slot array in the original tool.
const MaxConsumers = 8

// Consumer accepts reassembled frames. Errors inside Accept are the
// consumer's own business: the runtime swallows them so one failing
// sink (a broken pipe, a dropped connection, a decode failure) never
// stops delivery to its siblings or halts the loop.
type Consumer interface {
	Accept(ctx context.Context, timestampUs uint64, frame []byte)
	Close() error
}

// LivenessGate is implemented by consumers — currently only the
// renderer — that can independently signal the pipeline should stop,
// e.g. because a display window was closed. The runtime type-asserts
// for this capability rather than requiring every Consumer to implement
// it: a closed sum type over {Sender, Recorder, Pipe, Renderer} where
// only one variant carries the extra capability.
type LivenessGate interface {
	IsOpen() bool
}
