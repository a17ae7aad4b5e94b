// Package server implements the real-time connection and message-distribution
// core of the chat system.
//
// The implementation is organized into specialized files for the connection
// registry, room index, broadcast engine, heartbeat monitoring, protocol
// routing, configuration, and HTTP transport to keep the codebase
// maintainable and testable as the project grows.
package server
