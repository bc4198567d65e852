package sandbox

import (
	"bytes"
	"unicode/utf8"
)

// cappedBuffer keeps at most limit bytes and silently drops the rest. It
// always reports a full write so demultiplexing keeps draining the stream.
// The kept bytes never end in a partial UTF-8 sequence.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.limit <= 0 {
		return b.buf.Write(p)
	}
	if b.truncated {
		return len(p), nil
	}
	room := b.limit - b.buf.Len()
	if len(p) <= room {
		return b.buf.Write(p)
	}
	if room > 0 {
		b.buf.Write(p[:room])
	}
	b.truncated = true
	b.trimPartialRune()
	return len(p), nil
}

// trimPartialRune drops an incomplete multi-byte sequence left at the end of
// the buffer by the cut. The sequence may span earlier writes.
func (b *cappedBuffer) trimPartialRune() {
	data := b.buf.Bytes()
	for i := len(data) - 1; i >= 0 && i >= len(data)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(data[i]) {
			continue
		}
		if !utf8.FullRune(data[i:]) {
			b.buf.Truncate(i)
		}
		return
	}
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}
