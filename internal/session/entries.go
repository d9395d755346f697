package session

import (
	"strings"
	"time"
)

const (
	EntryMessage  = "message"
	EntryToolCall = "tool_call"
	EntryError    = "error"
)

// Entry is one rendered line of a session's display window. The window is
// independent of the cycle history and exists for clients that reattach.
type Entry struct {
	Type      string    `json:"type"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CallID    string    `json:"callId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type window struct {
	max     int
	entries []Entry
}

func newWindow(max int) *window {
	return &window{max: max}
}

func (w *window) push(e Entry) {
	if strings.TrimSpace(e.Text) == "" && e.Type == EntryMessage {
		return
	}
	w.entries = append(w.entries, e)
	if w.max > 0 && len(w.entries) > w.max {
		w.entries = append([]Entry(nil), w.entries[len(w.entries)-w.max:]...)
	}
}

// appendText extends the trailing assistant message instead of starting a
// new one, so multi-part content renders as one entry.
func (w *window) appendText(role, text string, at time.Time) {
	if n := len(w.entries); n > 0 {
		last := &w.entries[n-1]
		if last.Type == EntryMessage && last.Role == role && role == "assistant" {
			last.Text += text
			return
		}
	}
	w.push(Entry{Type: EntryMessage, Role: role, Text: text, CreatedAt: at})
}

func (w *window) snapshot() []Entry {
	return append([]Entry(nil), w.entries...)
}

// Transcript renders entries as "role: text" lines, keeping at most the
// last maxLines.
func Transcript(entries []Entry, maxLines int) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		text := strings.TrimSpace(e.Text)
		if text == "" {
			continue
		}
		switch e.Type {
		case EntryToolCall:
			lines = append(lines, "tool_call "+e.CallID+": "+text)
		case EntryError:
			lines = append(lines, "error: "+text)
		default:
			lines = append(lines, e.Role+": "+text)
		}
	}
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return strings.Join(lines, "\n")
}
