package telemetry

import (
	"sync"
	"time"
)

// Point is a single recorded metric observation. The JSON metrics endpoint
// serves these directly.
type Point struct {
	Name      string            `json:"name"`
	Labels    map[string]string `json:"labels,omitempty"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
}

// pointBuffer is a fixed-size ring of recent points. Old points are
// overwritten once the ring wraps.
type pointBuffer struct {
	mu     sync.RWMutex
	points []Point
	next   int
	filled bool
	now    func() time.Time
}

func newPointBuffer(size int) *pointBuffer {
	return &pointBuffer{
		points: make([]Point, size),
		now:    time.Now,
	}
}

func (b *pointBuffer) add(name string, labels map[string]string, value float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.points[b.next] = Point{
		Name:      name,
		Labels:    labels,
		Value:     value,
		Timestamp: b.now(),
	}
	b.next++
	if b.next == len(b.points) {
		b.next = 0
		b.filled = true
	}
}

// query returns points newer than since in insertion order. An empty names
// filter matches everything.
func (b *pointBuffer) query(since time.Time, names []string) []Point {
	nameSet := make(map[string]bool, len(names))
	for _, n := range names {
		nameSet[n] = true
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Point
	appendMatch := func(p Point) {
		if p.Timestamp.IsZero() || p.Timestamp.Before(since) {
			return
		}
		if len(nameSet) > 0 && !nameSet[p.Name] {
			return
		}
		out = append(out, p)
	}

	if b.filled {
		for i := b.next; i < len(b.points); i++ {
			appendMatch(b.points[i])
		}
	}
	for i := 0; i < b.next; i++ {
		appendMatch(b.points[i])
	}
	return out
}
