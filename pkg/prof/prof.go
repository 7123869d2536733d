//go:build profile

package prof

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	rpprof "runtime/pprof"
	"sync"

	"github.com/ardnew/softi3c/pkg"
)

var (
	activeMu sync.Mutex
	active   *Session
)

// Session is a running profiling session.
type Session struct {
	cfg Config
	cpu *os.File
	srv *http.Server
	lis net.Listener
}

// Start begins a session. Only one session may run at a time.
func Start(cfg Config) (*Session, error) {
	activeMu.Lock()
	defer activeMu.Unlock()
	if active != nil {
		return nil, ErrActive
	}

	s := &Session{cfg: cfg}
	if cfg.Mutex != "" {
		runtime.SetMutexProfileFraction(1)
	}
	if cfg.Block != "" {
		runtime.SetBlockProfileRate(1)
	}
	if cfg.CPU != "" {
		f, err := os.Create(cfg.CPU)
		if err != nil {
			s.resetRates()
			return nil, err
		}
		if err := rpprof.StartCPUProfile(f); err != nil {
			f.Close()
			s.resetRates()
			return nil, err
		}
		s.cpu = f
	}
	if cfg.HTTPAddr != "" {
		if err := s.serve(cfg.HTTPAddr); err != nil {
			s.stopCPU()
			s.resetRates()
			return nil, err
		}
	}

	active = s
	pkg.LogInfo(component, "profiling started",
		"cpu", cfg.CPU, "heap", cfg.Heap, "mutex", cfg.Mutex,
		"block", cfg.Block, "http", s.Addr())
	return s, nil
}

// Addr returns the address of the pprof HTTP server, or "".
func (s *Session) Addr() string {
	if s == nil || s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

func (s *Session) serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	s.lis = lis
	s.srv = &http.Server{Handler: mux}
	go func() {
		if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			pkg.LogWarn(component, "pprof server stopped", "error", err)
		}
	}()
	return nil
}

// Stop ends the session, writing every snapshot profile it was asked for.
func (s *Session) Stop() error {
	activeMu.Lock()
	defer activeMu.Unlock()
	if s == nil || active != s {
		return ErrNotActive
	}
	active = nil

	s.stopCPU()
	var errs []error
	if s.srv != nil {
		errs = append(errs, s.srv.Shutdown(context.Background()))
	}
	if s.cfg.Heap != "" {
		runtime.GC()
	}
	for _, p := range []struct{ name, path string }{
		{"heap", s.cfg.Heap},
		{"mutex", s.cfg.Mutex},
		{"block", s.cfg.Block},
	} {
		if p.path != "" {
			errs = append(errs, writeProfile(p.name, p.path))
		}
	}
	s.resetRates()

	err := errors.Join(errs...)
	if err != nil {
		pkg.LogWarn(component, "profiling stopped with errors", "error", err)
	} else {
		pkg.LogInfo(component, "profiling stopped")
	}
	return err
}

func (s *Session) stopCPU() {
	if s.cpu == nil {
		return
	}
	rpprof.StopCPUProfile()
	s.cpu.Close()
	s.cpu = nil
}

func (s *Session) resetRates() {
	if s.cfg.Mutex != "" {
		runtime.SetMutexProfileFraction(0)
	}
	if s.cfg.Block != "" {
		runtime.SetBlockProfileRate(0)
	}
}

func writeProfile(name, path string) error {
	p := rpprof.Lookup(name)
	if p == nil {
		return fmt.Errorf("%s: unknown profile", name)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := p.WriteTo(f, 0); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", name, err)
	}
	return f.Close()
}
