package prof

import (
	"errors"

	"github.com/ardnew/softi3c/pkg"
)

// component identifies profiling in structured logs.
const component pkg.Component = "prof"

// Errors.
var (
	ErrActive    = errors.New("profiling session already active")
	ErrNotActive = errors.New("profiling session not active")
)

// Config selects the profiles a session writes. Empty paths are skipped.
type Config struct {
	CPU   string // CPU samples, streamed while the session runs
	Heap  string // Live heap, written on Stop
	Mutex string // Mutex contention, written on Stop
	Block string // Blocking on channels and locks, written on Stop

	// HTTPAddr, if set, serves /debug/pprof/ on this address until Stop.
	HTTPAddr string
}

// Enabled reports whether cfg requests any output.
func (cfg Config) Enabled() bool {
	return cfg.CPU != "" || cfg.Heap != "" || cfg.Mutex != "" ||
		cfg.Block != "" || cfg.HTTPAddr != ""
}
