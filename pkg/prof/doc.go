// Package prof captures runtime profiles of programs driving an I3C bus.
//
// Transfers spend most of their time blocked on completion channels, so
// contention and blocking profiles tend to say more than CPU samples. A
// [Session] collects any combination of them at once.
//
// Profiling is compiled in only with the "profile" build tag:
//
//	go run -tags profile ./examples/sim-bus -cpuprofile cpu.prof -mutexprofile mutex.prof
//
// Without the tag [Start] returns a session whose Stop does nothing, and
// logs a warning if any output was requested.
//
// # Usage
//
//	s, err := prof.Start(prof.Config{CPU: "cpu.prof", Mutex: "mutex.prof"})
//	if err != nil {
//	    return err
//	}
//	defer s.Stop()
//
// Config.HTTPAddr additionally serves the net/http/pprof handlers for live
// inspection of a long-running process.
package prof
