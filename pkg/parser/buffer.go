package parser

import (
	"io"
	"strconv"
	"time"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/metadata"
	"github.com/ajitpratap0/quasar/pkg/pool"
	"github.com/ajitpratap0/quasar/pkg/record"
)

const defaultBufferSize = 64 * 1024

// inputBuffer is a refillable window over an io.Reader. Bytes between start
// and end are buffered and not yet consumed. The backing array comes from
// pool.Buffers and grows when a caller needs a longer contiguous window.
type inputBuffer struct {
	r      io.Reader
	buf    []byte
	start  int
	end    int
	eof    bool
	offset int64
}

func (b *inputBuffer) reset(r io.Reader) {
	if b.buf == nil {
		b.buf = pool.Buffers.Get(defaultBufferSize)
	}
	b.r = r
	b.start, b.end = 0, 0
	b.eof = false
	b.offset = 0
}

func (b *inputBuffer) release() {
	if b.buf != nil {
		pool.Buffers.Put(b.buf)
		b.buf = nil
	}
	b.r = nil
}

func (b *inputBuffer) buffered() int { return b.end - b.start }

// fill compacts the window and reads once more. It returns io.EOF when the
// reader is exhausted and nothing new was read.
func (b *inputBuffer) fill() error {
	if b.eof {
		return io.EOF
	}
	if b.start > 0 {
		n := copy(b.buf, b.buf[b.start:b.end])
		b.start, b.end = 0, n
	}
	if b.end == len(b.buf) {
		bigger := pool.Buffers.Get(2 * len(b.buf))
		copy(bigger, b.buf[:b.end])
		pool.Buffers.Put(b.buf)
		b.buf = bigger
	}
	for tries := 0; tries < 100; tries++ {
		n, err := b.r.Read(b.buf[b.end:])
		b.end += n
		if err == io.EOF {
			b.eof = true
			if n == 0 {
				return io.EOF
			}
			return nil
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeIO, "read failed")
		}
		if n > 0 {
			return nil
		}
	}
	return errors.New(errors.ErrorTypeIO, "reader returned no data")
}

// ensure tries to buffer at least n bytes and returns how many are buffered.
// Fewer than n means the stream ended.
func (b *inputBuffer) ensure(n int) (int, error) {
	for b.buffered() < n {
		if err := b.fill(); err != nil {
			if err == io.EOF {
				break
			}
			return b.buffered(), err
		}
	}
	return b.buffered(), nil
}

// peek returns up to n buffered bytes without consuming them
func (b *inputBuffer) peek(n int) []byte {
	if n > b.buffered() {
		n = b.buffered()
	}
	return b.buf[b.start : b.start+n]
}

func (b *inputBuffer) discard(n int) {
	b.start += n
	b.offset += int64(n)
}

// hasPrefix reports whether the upcoming bytes equal p
func (b *inputBuffer) hasPrefix(p []byte) (bool, error) {
	if len(p) == 0 {
		return false, nil
	}
	n, err := b.ensure(len(p))
	if err != nil || n < len(p) {
		return false, err
	}
	w := b.buf[b.start : b.start+len(p)]
	for i := range p {
		if w[i] != p[i] {
			return false, nil
		}
	}
	return true, nil
}

// readByte consumes one byte; ok is false at the end of the stream
func (b *inputBuffer) readByte() (c byte, ok bool, err error) {
	if b.buffered() == 0 {
		if _, err := b.ensure(1); err != nil {
			return 0, false, err
		}
		if b.buffered() == 0 {
			return 0, false, nil
		}
	}
	c = b.buf[b.start]
	b.discard(1)
	return c, true, nil
}

// AutoFill assigns every auto-filled field of rec
func AutoFill(rec *record.Record, recNo int64, source string) error {
	meta := rec.Metadata()
	for i := range meta.Fields {
		fm := &meta.Fields[i]
		f := rec.Field(i)
		var err error
		switch fm.AutoFilling {
		case metadata.AutoFillNone:
			continue
		case metadata.AutoFillRecordNumber:
			err = f.FromString(strconv.FormatInt(recNo, 10))
		case metadata.AutoFillSourceName:
			err = f.FromString(source)
		case metadata.AutoFillRowTimestamp:
			now := time.Now().UTC()
			if fm.Type == metadata.TypeDate {
				err = f.SetValue(now)
			} else {
				err = f.FromString(now.Format(time.RFC3339))
			}
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "cannot auto-fill field "+fm.Name)
		}
	}
	return nil
}
