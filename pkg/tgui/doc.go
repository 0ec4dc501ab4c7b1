// Package tgui renders Telegram HTML digests:
//   - a line builder that escapes by default
//   - small HTML helpers (Esc, B, Code, JoinH)
//   - rune-safe truncation
package tgui
