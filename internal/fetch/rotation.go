package fetch

import "sync"

// RotationPool yields interchangeable identity values (proxy URLs, user
// agents) round-robin. All operations serialize on one mutex so concurrent
// Next calls never observe a stale cursor referencing a removed entry.
type RotationPool struct {
	mu      sync.Mutex
	entries []string
	cursor  int
}

// NewRotationPool builds a pool over the given values, preserving order.
// Blank values are dropped.
func NewRotationPool(values []string) *RotationPool {
	p := &RotationPool{}
	for _, v := range values {
		if v == "" {
			continue
		}
		p.entries = append(p.entries, v)
	}
	return p
}

// Next returns the value at the cursor and advances it. Over len(pool)
// consecutive calls with no concurrent mutation, every entry is returned
// exactly once. Returns ErrPoolExhausted when the pool is empty.
func (p *RotationPool) Next() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.entries) == 0 {
		return "", ErrPoolExhausted
	}
	if p.cursor >= len(p.entries) {
		p.cursor = 0
	}
	v := p.entries[p.cursor]
	p.cursor = (p.cursor + 1) % len(p.entries)
	return v, nil
}

// Add appends a value to the rotation. No-op for blank values.
func (p *RotationPool) Add(value string) {
	if value == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, value)
}

// Remove deletes the first occurrence of value, keeping the cursor on the
// entry that would have been served next. Reports whether anything was
// removed.
func (p *RotationPool) Remove(value string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, v := range p.entries {
		if v != value {
			continue
		}
		p.entries = append(p.entries[:i], p.entries[i+1:]...)
		if i < p.cursor {
			p.cursor--
		}
		if len(p.entries) == 0 {
			p.cursor = 0
		} else {
			p.cursor %= len(p.entries)
		}
		return true
	}
	return false
}

// Len returns the current number of entries.
func (p *RotationPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Values returns a copy of the current entries in rotation order.
func (p *RotationPool) Values() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.entries))
	copy(out, p.entries)
	return out
}
