package presence

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessLister enumerates the executable paths of running processes. The
// sequence is lazy and may be ranged over more than once. A failure to
// enumerate is yielded as a final non-nil error.
type ProcessLister interface {
	Executables(ctx context.Context) iter.Seq2[string, error]
}

// SystemProcesses lists the processes of the local machine.
type SystemProcesses struct {
	Logger *slog.Logger
}

func (s SystemProcesses) Executables(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		procs, err := process.ProcessesWithContext(ctx)
		if err != nil {
			yield("", fmt.Errorf("listing processes: %w", err))
			return
		}
		for _, p := range procs {
			if ctx.Err() != nil {
				return
			}
			// Processes owned by other users or already gone are skipped.
			exe, err := p.ExeWithContext(ctx)
			if err != nil || exe == "" {
				continue
			}
			if !yield(exe, nil) {
				return
			}
		}
	}
}

func (s SystemProcesses) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default().With("component", "presence")
}
