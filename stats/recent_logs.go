package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LogEntry represents a single retained log record.
type LogEntry struct {
	Timestamp time.Time
	Level     slog.Level
	Message   string
	Attrs     map[string]any
}

// RecentLogs retains the latest warning and error records passing through the
// handlers it creates.
type RecentLogs struct {
	mu         sync.Mutex
	entries    []LogEntry
	maxEntries int
	minLevel   slog.Level
}

// NewRecentLogs creates a tracker keeping at most maxEntries records (100 when <= 0).
func NewRecentLogs(maxEntries int) *RecentLogs {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &RecentLogs{
		entries:    make([]LogEntry, 0, maxEntries),
		maxEntries: maxEntries,
		minLevel:   slog.LevelWarn,
	}
}

// Entries returns the retained records, oldest first.
func (r *RecentLogs) Entries() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LogEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Handler wraps next so that records at warning level or above are also retained.
func (r *RecentLogs) Handler(next slog.Handler) slog.Handler {
	return &recentHandler{logs: r, next: next}
}

func (r *RecentLogs) add(entry LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, entry)

	// Keep only last N entries (ringbuffer)
	if len(r.entries) > r.maxEntries {
		r.entries = r.entries[len(r.entries)-r.maxEntries:]
	}
}

type recentHandler struct {
	logs   *RecentLogs
	next   slog.Handler
	attrs  []slog.Attr
	prefix string
}

func (h *recentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.logs.minLevel || h.next.Enabled(ctx, level)
}

func (h *recentHandler) Handle(ctx context.Context, rec slog.Record) error {
	if rec.Level >= h.logs.minLevel {
		attrs := make(map[string]any, len(h.attrs)+rec.NumAttrs())
		for _, a := range h.attrs {
			attrs[a.Key] = a.Value.Any()
		}
		rec.Attrs(func(a slog.Attr) bool {
			attrs[h.prefix+a.Key] = a.Value.Resolve().Any()
			return true
		})
		h.logs.add(LogEntry{
			Timestamp: rec.Time.UTC(),
			Level:     rec.Level,
			Message:   rec.Message,
			Attrs:     attrs,
		})
	}
	if !h.next.Enabled(ctx, rec.Level) {
		return nil
	}
	return h.next.Handle(ctx, rec)
}

func (h *recentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value.Resolve()})
	}
	clone.next = h.next.WithAttrs(attrs)
	return &clone
}

func (h *recentHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	clone.next = h.next.WithGroup(name)
	return &clone
}
