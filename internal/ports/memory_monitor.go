package ports

import "context"

// MemoryMonitor observes the memory usage of a live process. Watch blocks
// until the process exits or the context ends, recording samples as a side
// effect at the implementation's cadence.
type MemoryMonitor interface {
	Watch(ctx context.Context, pid int, label string) error
}
