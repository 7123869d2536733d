// Package pkg provides shared utilities for the softi3c bus master.
//
// This package contains common functionality used by the controller engine,
// the bus model and the register HAL backends, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error types for I3C protocol and controller errors
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with bus-specific context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentDAA, "device assigned", pkg.AddrAttr("addr", 0x08))
//
// # Errors
//
// Errors returned by the engine are sentinel values, optionally wrapped
// with context:
//
//	if errors.Is(err, pkg.ErrNoDevice) {
//	    // Nobody acknowledged the address
//	}
package pkg
