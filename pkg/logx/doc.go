// Package logx configures tame's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable on stderr (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional systemd journal sink (min-level + rate limiting)
//
// Components receive a Logger through their constructors; there is no
// package-level logger.
package logx
