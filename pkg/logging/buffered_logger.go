package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// BufferedLogHandler captures records in memory as JSON lines, for tests that
// assert on emitted diagnostics.
//
//	handler := logging.NewBufferedLogHandler(nil)
//	logging.SetLogger(slog.New(handler))
//	// ... predict ...
//	handler.Contains("missing bond statistic")
type BufferedLogHandler struct {
	level      slog.Leveler
	mu         *sync.Mutex
	buffer     *bytes.Buffer
	preAttrs   []slog.Attr
	groupNames []string
}

// NewBufferedLogHandler captures every level unless opts sets one.
func NewBufferedLogHandler(opts *slog.HandlerOptions) *BufferedLogHandler {
	h := &BufferedLogHandler{mu: &sync.Mutex{}, buffer: &bytes.Buffer{}}
	if opts != nil && opts.Level != nil {
		h.level = opts.Level
	}
	return h
}

func (h *BufferedLogHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.level == nil {
		return true
	}
	return level >= h.level.Level()
}

func (h *BufferedLogHandler) Handle(_ context.Context, r slog.Record) error {
	entry := logEntry{
		Level:    r.Level.String(),
		Message:  r.Message,
		DateTime: r.Time.Format(time.DateTime),
	}
	for _, attr := range h.preAttrs {
		entry.Attrs = append(entry.Attrs, h.prefixed(attr))
	}
	r.Attrs(func(attr slog.Attr) bool {
		entry.Attrs = append(entry.Attrs, h.prefixed(attr))
		return true
	})

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.buffer.Write(data)
	h.buffer.WriteByte('\n')
	return nil
}

func (h *BufferedLogHandler) prefixed(attr slog.Attr) string {
	if len(h.groupNames) == 0 {
		return attr.String()
	}
	return strings.Join(h.groupNames, ".") + "." + attr.String()
}

func (h *BufferedLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.preAttrs = append(append([]slog.Attr(nil), h.preAttrs...), attrs...)
	return &clone
}

func (h *BufferedLogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groupNames = append(append([]string(nil), h.groupNames...), name)
	return &clone
}

// String returns everything captured so far.
func (h *BufferedLogHandler) String() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buffer.String()
}

func (h *BufferedLogHandler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buffer.Reset()
}

func (h *BufferedLogHandler) Contains(s string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return bytes.Contains(h.buffer.Bytes(), []byte(s))
}

type logEntry struct {
	Level    string   `json:"level"`
	Message  string   `json:"message"`
	DateTime string   `json:"datetime"`
	Attrs    []string `json:"attrs,omitempty"`
}
