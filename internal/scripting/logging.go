package scripting

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// DiagnosticEntry is a single retained diagnostic.
type DiagnosticEntry struct {
	Time    time.Time         `json:"time"`
	Level   slog.Level        `json:"level"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attrs"`
}

// diagnosticRing is the bounded store shared by a Diagnostics handler and
// every handler derived from it via WithAttrs or WithGroup.
type diagnosticRing struct {
	mutex   sync.RWMutex
	entries []DiagnosticEntry
	maxSize int
}

// Diagnostics is the sink for non-fatal bridge diagnostics, such as key
// ambiguity warnings. It implements slog.Handler, retaining the most recent
// entries for inspection and forwarding each record to an optional next
// handler.
type Diagnostics struct {
	ring   *diagnosticRing
	level  slog.Leveler
	next   slog.Handler
	attrs  []slog.Attr
	prefix string
}

var _ slog.Handler = (*Diagnostics)(nil)

// NewDiagnostics creates a handler retaining at most maxEntries records of
// level Info and above. Records are also passed to next, if it is non-nil.
// Use [Diagnostics.SetLevel] to retain debug records as well.
func NewDiagnostics(maxEntries int, next slog.Handler) *Diagnostics {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &Diagnostics{
		ring: &diagnosticRing{
			entries: make([]DiagnosticEntry, 0, min(maxEntries, 64)),
			maxSize: maxEntries,
		},
		level: slog.LevelInfo,
		next:  next,
	}
}

// SetLevel changes the minimum retained level.
func (h *Diagnostics) SetLevel(level slog.Leveler) {
	h.level = level
}

// Enabled implements slog.Handler.
func (h *Diagnostics) Enabled(ctx context.Context, level slog.Level) bool {
	if level >= h.level.Level() {
		return true
	}
	return h.next != nil && h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *Diagnostics) Handle(ctx context.Context, record slog.Record) error {
	if record.Level >= h.level.Level() {
		attrs := make(map[string]string, len(h.attrs)+record.NumAttrs())
		for _, a := range h.attrs {
			attrs[a.Key] = a.Value.String()
		}
		record.Attrs(func(a slog.Attr) bool {
			attrs[h.prefix+a.Key] = a.Value.String()
			return true
		})
		h.ring.add(DiagnosticEntry{
			Time:    record.Time,
			Level:   record.Level,
			Message: record.Message,
			Attrs:   attrs,
		})
	}
	if h.next != nil && h.next.Enabled(ctx, record.Level) {
		return h.next.Handle(ctx, record)
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (h *Diagnostics) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = slices.Clip(h.attrs)
	for _, a := range attrs {
		c.attrs = append(c.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	if h.next != nil {
		c.next = h.next.WithAttrs(attrs)
	}
	return &c
}

// WithGroup implements slog.Handler.
func (h *Diagnostics) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = h.prefix + name + "."
	if h.next != nil {
		c.next = h.next.WithGroup(name)
	}
	return &c
}

func (r *diagnosticRing) add(e DiagnosticEntry) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.entries = append(r.entries, e)
	if len(r.entries) > r.maxSize {
		r.entries = r.entries[1:]
	}
}

// Entries returns a copy of all retained entries, oldest first.
func (h *Diagnostics) Entries() []DiagnosticEntry {
	h.ring.mutex.RLock()
	defer h.ring.mutex.RUnlock()
	return slices.Clone(h.ring.entries)
}

// Recent returns the most recent count entries.
func (h *Diagnostics) Recent(count int) []DiagnosticEntry {
	h.ring.mutex.RLock()
	defer h.ring.mutex.RUnlock()
	if count <= 0 || count > len(h.ring.entries) {
		count = len(h.ring.entries)
	}
	return slices.Clone(h.ring.entries[len(h.ring.entries)-count:])
}

// Count returns the number of retained entries at exactly level.
func (h *Diagnostics) Count(level slog.Level) int {
	h.ring.mutex.RLock()
	defer h.ring.mutex.RUnlock()
	n := 0
	for _, e := range h.ring.entries {
		if e.Level == level {
			n++
		}
	}
	return n
}

// Search returns the entries whose message, attribute keys or attribute
// values contain query, case-insensitively.
func (h *Diagnostics) Search(query string) []DiagnosticEntry {
	h.ring.mutex.RLock()
	defer h.ring.mutex.RUnlock()

	query = strings.ToLower(query)
	var matches []DiagnosticEntry
	for _, entry := range h.ring.entries {
		if strings.Contains(strings.ToLower(entry.Message), query) {
			matches = append(matches, entry)
			continue
		}
		for key, value := range entry.Attrs {
			if strings.Contains(strings.ToLower(key), query) ||
				strings.Contains(strings.ToLower(value), query) {
				matches = append(matches, entry)
				break
			}
		}
	}
	return matches
}

// Clear removes all retained entries.
func (h *Diagnostics) Clear() {
	h.ring.mutex.Lock()
	defer h.ring.mutex.Unlock()
	h.ring.entries = h.ring.entries[:0]
}
