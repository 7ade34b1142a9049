// Package signaling exposes the relay over two transports: a persistent
// WebSocket at /ws and a store-and-poll HTTP endpoint at /api/signal.
package signaling
