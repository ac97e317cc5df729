// Package profiling unifies the profiling api between Gio's own
// per-frame profiler and pkg/profile's process-wide profiles, so
// residencyctl's run command can turn on whichever kind of profile a
// caller asks for with a single flag. The stress and inspect commands
// do not use it.
package profiling

import (
	"log"

	"gioui.org/layout"
	"gioui.org/x/profiling"
	"github.com/pkg/profile"
)

// Profiler unifies the profiling api between Gio's per-frame profiler
// and pkg/profile's process-wide profiles.
type Profiler struct {
	Starter  func(p *profile.Profile)
	Stopper  func()
	Recorder func(gtx layout.Context)
}

// Start profiling.
func (pfn *Profiler) Start() {
	if pfn.Starter != nil {
		pfn.Stopper = profile.Start(pfn.Starter).Stop
	}
}

// Stop profiling.
func (pfn *Profiler) Stop() {
	if pfn.Stopper != nil {
		pfn.Stopper()
	}
}

// Record per-frame stats, if the selected profile kind supports it.
func (pfn Profiler) Record(gtx layout.Context) {
	if pfn.Recorder != nil {
		pfn.Recorder(gtx)
	}
}

// Kind names one of the supported profile flavors.
type Kind string

const (
	None      Kind = "none"
	CPU       Kind = "cpu"
	Memory    Kind = "mem"
	Block     Kind = "block"
	Goroutine Kind = "goroutine"
	Mutex     Kind = "mutex"
	Trace     Kind = "trace"
	Gio       Kind = "gio"
)

// New creates a Profiler for the selected kind. Unrecognized kinds
// behave the same as None: a Profiler whose Start/Stop/Record do
// nothing.
func (k Kind) New() Profiler {
	switch k {
	case CPU:
		return Profiler{Starter: profile.CPUProfile}
	case Memory:
		return Profiler{Starter: profile.MemProfile}
	case Block:
		return Profiler{Starter: profile.BlockProfile}
	case Goroutine:
		return Profiler{Starter: profile.GoroutineProfile}
	case Mutex:
		return Profiler{Starter: profile.MutexProfile}
	case Trace:
		return Profiler{Starter: profile.TraceProfile}
	case Gio:
		var (
			recorder *profiling.CSVTimingRecorder
			err      error
		)
		return Profiler{
			Starter: func(*profile.Profile) {
				recorder, err = profiling.NewRecorder(nil)
				if err != nil {
					log.Printf("starting gio profiler: %v", err)
				}
			},
			Stopper: func() {
				if recorder == nil {
					return
				}
				if err := recorder.Stop(); err != nil {
					log.Printf("stopping gio profiler: %v", err)
				}
			},
			Recorder: func(gtx layout.Context) {
				if recorder == nil {
					return
				}
				recorder.Profile(gtx)
			},
		}
	default:
		return Profiler{}
	}
}
