// Package logging provides rotating, JSON-formatted file logging for the
// ragrep daemon, sourced from the ambient log config in internal/config.
package logging
