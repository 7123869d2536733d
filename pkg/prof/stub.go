//go:build !profile

package prof

import "github.com/ardnew/softi3c/pkg"

// Session is a profiling session. Without the "profile" build tag it
// records nothing.
type Session struct{}

// Start returns an inert session.
func Start(cfg Config) (*Session, error) {
	if cfg.Enabled() {
		pkg.LogWarn(component, "profiling requested but not compiled in; rebuild with -tags profile")
	}
	return &Session{}, nil
}

// Addr always returns "".
func (s *Session) Addr() string { return "" }

// Stop does nothing.
func (s *Session) Stop() error { return nil }
