// Package logx configures tickrun's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Output targets and levels hot-swappable via Service.Apply
package logx
