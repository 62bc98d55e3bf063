// Package log provides structured protocol event logging for the
// engine.
//
// Engine components emit Events describing frames, decoded messages,
// session transitions and errors. Applications receive them through
// the Logger interface; pass nil (or NoopLogger) to disable logging
// entirely.
//
// Two sinks ship with the package:
//
//   - SlogAdapter bridges events to a log/slog logger for console or
//     JSON output during development.
//   - CaptureWriter appends events to a CBOR stream for offline
//     protocol analysis; CaptureReader replays such a stream.
package log
