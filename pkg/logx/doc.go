// Package logx is taskbot's structured logging on top of zerolog.
//
// Console output is human readable with a short caller. The file sink keeps
// JSON lines. An optional Telegram sink forwards warnings to an ops chat,
// rate limited and never blocking the caller.
package logx
