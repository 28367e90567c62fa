// Package logging constructs the slog loggers used across the engine, with
// a human-oriented console handler and a JSON handler for machine capture.
package logging
