// Package logx configures botpace's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional ops-chat sink (min-level + rate limiting)
//
// The zero value of Logger is a safe no-op, which keeps optional logging
// dependencies out of constructors.
package logx
