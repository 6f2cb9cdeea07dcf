package modbus

import (
	"net"
	"sync"
)

// connRegistry tracks accepted connections so Server.Stop can close them
// and wait for their worker goroutines to drain.
type connRegistry struct {
	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func newConnRegistry() *connRegistry {
	return &connRegistry{conns: make(map[net.Conn]struct{})}
}

// add registers a newly accepted connection.
func (r *connRegistry) add(c net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c] = struct{}{}
}

// remove drops a connection once its worker loop has returned.
func (r *connRegistry) remove(c net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, c)
}

// closeAll closes every tracked connection, unblocking any worker goroutine
// sitting in a blocking read so it can observe context cancellation.
func (r *connRegistry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.conns {
		c.Close()
	}
}

// count returns the number of currently tracked connections.
func (r *connRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
