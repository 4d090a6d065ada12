// Package transport defines the interface for the network front ends of
// face2voice.
//
// Each transport (HTTP API, gRPC health) is started by main and stopped on
// shutdown. The request pipeline lives behind the transports; main only
// works with the Transport contract.
package transport

import (
	"context"
)

// Transport is the interface that every transport adapter must implement.
type Transport interface {
	// Name returns the transport identifier (e.g., "grpc", "http").
	Name() string

	// Listen starts accepting connections. It blocks until the context is
	// cancelled or the listener fails.
	Listen(ctx context.Context) error

	// Close gracefully shuts down the transport, draining in-flight work.
	Close() error
}
