package runtime

import (
	"fmt"

	"github.com/aristath/fleet/internal/mailbox"
	"github.com/aristath/fleet/internal/queue"
)

// Deps carries everything the individual backends need. Fields unused
// by the selected mode may be left zero.
type Deps struct {
	Defs    []WorkerDef
	Mailbox *mailbox.Mailbox
	Queue   *queue.Queue
	Run     RunFunc // In-process worker entry point
	Process ProcessConfig
	Lazy    LazyConfig
}

// New builds the runtime for the given mode. The lazy mode wraps the
// delegate named in its config, in_process unless told otherwise.
func New(mode Mode, deps Deps) (Runtime, error) {
	switch mode {
	case ModeProcess:
		return NewProcess(deps.Defs, deps.Mailbox, deps.Process)
	case ModeInProcess:
		if deps.Run == nil {
			return nil, fmt.Errorf("in_process runtime requires a worker entry point")
		}
		return NewCoop(deps.Defs, deps.Run), nil
	case ModeLazy:
		if deps.Queue == nil {
			return nil, fmt.Errorf("lazy runtime requires the queue")
		}
		if deps.Lazy.Delegate == ModeLazy {
			return nil, fmt.Errorf("lazy runtime cannot delegate to itself")
		}
		delegate, err := New(deps.Lazy.Delegate, deps)
		if err != nil {
			return nil, fmt.Errorf("lazy delegate: %w", err)
		}
		return NewLazy(delegate, deps.Defs, deps.Queue, deps.Lazy), nil
	default:
		return nil, fmt.Errorf("unknown runtime mode %v", mode)
	}
}
