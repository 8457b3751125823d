// Package logx configures cyclekit's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller, no colour off a TTY)
//   - File output JSON-structured
//   - Optional forwarding sink (min-level + rate limiting), e.g. the game host console
//
// Host log levels map onto zerolog as fine=Debug, config=Info, warning=Warn, severe=Error.
package logx
