// Package logx configures bsewatch's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional Telegram ops sink (min-level + rate limiting) so run
//     failures reach an operator chat
package logx
