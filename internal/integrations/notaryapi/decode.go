package notaryapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"unicode/utf8"

	"notary-chat/internal/domain"
)

type decodeState int

const (
	stateText decodeState = iota
	stateContext
	stateTrailing
	stateDiscard
)

const maxSegment = 512

// Decode turns a raw reply body into StreamEvents. Bytes before the first
// sentinel are text; the bytes after it are one JSON object that replaces the
// workflow context. The envelope form {"<sentinel>": {...}} is accepted too.
// Text is released as soon as it cannot be part of the sentinel, the envelope
// opening or a split UTF-8 rune.
//
// A ProtocolError is yielded alongside a zero event and iteration continues;
// callers log it and keep ranging. Any other error is terminal and is the
// last element of the sequence.
func Decode(chunks iter.Seq2[[]byte, error], sentinel string) iter.Seq2[domain.StreamEvent, error] {
	if sentinel == "" {
		sentinel = DefaultSentinel
	}
	return func(yield func(domain.StreamEvent, error) bool) {
		d := &decoder{
			sentinel: []byte(sentinel),
			opening:  []byte(`{"` + sentinel),
		}
		emit := func(out []decoded) bool {
			for _, o := range out {
				if !yield(o.event, o.err) {
					return false
				}
			}
			return true
		}
		for chunk, err := range chunks {
			if err != nil {
				yield(domain.StreamEvent{}, err)
				return
			}
			if !emit(d.feed(chunk)) {
				return
			}
		}
		emit(d.finish())
	}
}

type decoded struct {
	event domain.StreamEvent
	err   error
}

type decoder struct {
	sentinel []byte
	opening  []byte
	state    decodeState
	pending  []byte
	envelope bool
}

func (d *decoder) feed(chunk []byte) []decoded {
	switch d.state {
	case stateText:
		d.pending = append(d.pending, chunk...)
		idx := bytes.Index(d.pending, d.sentinel)
		if idx < 0 {
			return d.releaseText()
		}
		start := idx + len(d.sentinel)
		if idx >= 2 && bytes.Equal(d.pending[idx-2:idx], d.opening[:2]) {
			// Envelope: keep the opening so the whole object is decoded.
			idx -= 2
			start = idx
			d.envelope = true
		}
		var out []decoded
		if idx > 0 {
			out = append(out, decoded{event: domain.TextEvent(string(d.pending[:idx]))})
		}
		rest := append([]byte(nil), d.pending[start:]...)
		d.pending = rest
		d.state = stateContext
		return append(out, d.tryContext(false)...)
	case stateContext:
		d.pending = append(d.pending, chunk...)
		return d.tryContext(false)
	case stateTrailing:
		if len(d.pending) < maxSegment {
			d.pending = append(d.pending, chunk...)
		}
	}
	return nil
}

// releaseText emits the part of the buffer that can no longer turn into the
// sentinel and does not end inside a rune.
func (d *decoder) releaseText() []decoded {
	hold := max(sentinelOverlap(d.pending, d.sentinel), sentinelOverlap(d.pending, d.opening))
	cut := len(d.pending) - hold
	cut = runeBoundary(d.pending[:cut])
	if cut == 0 {
		return nil
	}
	text := string(d.pending[:cut])
	d.pending = append([]byte(nil), d.pending[cut:]...)
	return []decoded{{event: domain.TextEvent(text)}}
}

func (d *decoder) tryContext(final bool) []decoded {
	body := bytes.TrimLeft(d.pending, " \t\r\n")
	if len(body) == 0 {
		if final {
			d.state = stateDiscard
			return []decoded{{err: &ProtocolError{Reason: "missing_context"}}}
		}
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	var ctx map[string]any
	var err error
	if d.envelope {
		ctx, err = d.unwrap(dec)
	} else {
		err = dec.Decode(&ctx)
	}
	switch {
	case err == nil && ctx != nil:
		d.pending = append([]byte(nil), body[dec.InputOffset():]...)
		d.state = stateTrailing
		return []decoded{{event: domain.ContextEvent(domain.WorkflowContext(ctx))}}
	case err == nil:
		err = errors.New("context is not an object")
	case errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF):
		if !final {
			return nil
		}
		d.state = stateDiscard
		seg := segment(body)
		d.pending = nil
		return []decoded{{err: &ProtocolError{Reason: "truncated_context", Segment: seg, Err: err}}}
	}
	d.state = stateDiscard
	seg := segment(body)
	d.pending = nil
	return []decoded{{err: &ProtocolError{Reason: "malformed_context", Segment: seg, Err: err}}}
}

// unwrap decodes {"<sentinel>": {...}} and returns the inner object.
func (d *decoder) unwrap(dec *json.Decoder) (map[string]any, error) {
	var env map[string]json.RawMessage
	if err := dec.Decode(&env); err != nil {
		return nil, err
	}
	raw, ok := env[string(d.sentinel)]
	if !ok {
		return nil, errors.New("envelope without context key")
	}
	var ctx map[string]any
	if err := json.Unmarshal(raw, &ctx); err != nil {
		return nil, err
	}
	return ctx, nil
}

func (d *decoder) finish() []decoded {
	switch d.state {
	case stateText:
		if len(d.pending) == 0 {
			return nil
		}
		text := string(d.pending)
		d.pending = nil
		return []decoded{{event: domain.TextEvent(text)}}
	case stateContext:
		return d.tryContext(true)
	case stateTrailing:
		rest := bytes.TrimSpace(d.pending)
		d.pending = nil
		if len(rest) > 0 {
			return []decoded{{err: &ProtocolError{Reason: "text_after_context", Segment: segment(rest)}}}
		}
	}
	return nil
}

// sentinelOverlap returns the length of the longest suffix of buf that is a
// proper prefix of sentinel.
func sentinelOverlap(buf, sentinel []byte) int {
	limit := len(sentinel) - 1
	if limit > len(buf) {
		limit = len(buf)
	}
	for n := limit; n > 0; n-- {
		if bytes.HasPrefix(sentinel, buf[len(buf)-n:]) {
			return n
		}
	}
	return 0
}

// runeBoundary returns the length of the longest prefix of b that does not
// end inside a multi-byte rune.
func runeBoundary(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return len(b)
			}
			return i
		}
	}
	return len(b)
}

func segment(b []byte) string {
	if len(b) > maxSegment {
		b = b[:maxSegment]
	}
	return string(b)
}
