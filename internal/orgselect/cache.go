package orgselect

import (
	"fmt"
	"io"
	"sync"
)

// MemoryCache is a QueryCache that tracks invalidation generations per key.
type MemoryCache struct {
	mu          sync.Mutex
	generations map[string]int
	global      int
}

// NewMemoryCache returns an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{generations: make(map[string]int)}
}

// Invalidate bumps key's generation.
func (c *MemoryCache) Invalidate(key QueryKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[key.String()]++
}

// InvalidateAll bumps the global generation.
func (c *MemoryCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.global++
}

// Generation returns how many times key has been invalidated, including
// global invalidations.
func (c *MemoryCache) Generation(key QueryKey) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[key.String()] + c.global
}

// WriterNotifier prints notifications to a writer.
type WriterNotifier struct {
	mu  sync.Mutex
	out io.Writer
}

// NewWriterNotifier returns a notifier writing to out.
func NewWriterNotifier(out io.Writer) *WriterNotifier {
	return &WriterNotifier{out: out}
}

// Error prints msg as an error.
func (n *WriterNotifier) Error(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, _ = fmt.Fprintf(n.out, "error: %s\n", msg)
}

// Success prints msg.
func (n *WriterNotifier) Success(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, _ = fmt.Fprintln(n.out, msg)
}
