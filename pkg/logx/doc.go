// Package logx wraps zerolog behind a small structured-logging API.
//
// The Service variant supports live reconfiguration (Apply) and an optional
// rate-limited chat sink that forwards important records to an admin chat.
package logx
