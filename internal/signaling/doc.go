// Package signaling implements the WebRTC signaling core: client and room
// registries, the bounded event queue and the engine that owns them.
//
// All registry state is confined to the engine goroutine. Transport
// goroutines never touch registries directly; they enqueue events and the
// engine processes them in arrival order.
package signaling
