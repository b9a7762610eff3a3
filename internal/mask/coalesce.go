package mask

import "strings"

// Event kinds persisted to the store.
const (
	KindText = "text"
	KindKey  = "key"
)

// DefaultChunkLen caps a coalesced text run in bytes. The cap is checked
// after appending a whole fragment so multi-byte runes are never split.
const DefaultChunkLen = 512

// Keystroke is one captured event as seen by the mask stage. Fragment is the
// printable insertion, empty for non-printing keys. EmitKey marks keys that
// are stored as their own row (modifiers and function keys when enabled).
type Keystroke struct {
	TS          int64
	Key         string
	Fragment    string
	EmitKey     bool
	Application string
	WindowTitle string
}

// Chunk is a run of coalesced text, or a single named key, ready for
// redaction. TS is the timestamp of the first fragment in the run.
type Chunk struct {
	TS          int64
	Text        string
	Application string
	WindowTitle string
	Kind        string
}

// Event is the redacted form of a Chunk, owned by the persist stage until
// it is stored.
type Event struct {
	TS          int64
	Content     string
	Application string
	WindowTitle string
	Kind        string
	Tags        []string
}

// Chunker coalesces printable fragments into text runs. A run closes when
// the window context changes, when any non-printing key arrives, when the
// byte cap is reached, or when the run sits idle past the flush interval.
// Not safe for concurrent use; owned by the mask worker.
type Chunker struct {
	maxLen int

	buf     strings.Builder
	open    bool
	firstTS int64
	lastTS  int64
	app     string
	title   string
}

// NewChunker builds a Chunker with the given byte cap. maxLen <= 0 uses
// DefaultChunkLen.
func NewChunker(maxLen int) *Chunker {
	if maxLen <= 0 {
		maxLen = DefaultChunkLen
	}
	return &Chunker{maxLen: maxLen}
}

// Add feeds one keystroke and returns zero or more completed chunks, in
// order. A non-printing key first closes any open run, preserving event
// order between the flushed run and the key's own row.
func (c *Chunker) Add(k Keystroke) []Chunk {
	var out []Chunk

	if k.Fragment == "" {
		if ch, ok := c.Flush(); ok {
			out = append(out, ch)
		}
		if k.EmitKey {
			out = append(out, Chunk{
				TS:          k.TS,
				Text:        k.Key,
				Application: k.Application,
				WindowTitle: k.WindowTitle,
				Kind:        KindKey,
			})
		}
		return out
	}

	if c.open && (c.app != k.Application || c.title != k.WindowTitle) {
		if ch, ok := c.Flush(); ok {
			out = append(out, ch)
		}
	}

	if !c.open {
		c.open = true
		c.firstTS = k.TS
		c.app = k.Application
		c.title = k.WindowTitle
		c.buf.Reset()
	}
	c.buf.WriteString(k.Fragment)
	c.lastTS = k.TS

	if c.buf.Len() >= c.maxLen {
		if ch, ok := c.Flush(); ok {
			out = append(out, ch)
		}
	}
	return out
}

// Flush closes the open run, if any.
func (c *Chunker) Flush() (Chunk, bool) {
	if !c.open {
		return Chunk{}, false
	}
	ch := Chunk{
		TS:          c.firstTS,
		Text:        c.buf.String(),
		Application: c.app,
		WindowTitle: c.title,
		Kind:        KindText,
	}
	c.open = false
	c.buf.Reset()
	return ch, true
}

// FlushIfIdle closes the open run when no fragment has arrived for at least
// maxIdleMS. Called by the mask worker on its ticker.
func (c *Chunker) FlushIfIdle(nowMS, maxIdleMS int64) (Chunk, bool) {
	if !c.open || nowMS-c.lastTS < maxIdleMS {
		return Chunk{}, false
	}
	return c.Flush()
}
