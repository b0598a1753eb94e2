package seqfile

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/ajitpratap0/quasar/pkg/compression"
	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/google/uuid"
)

// WriterOptions describes the file to write
type WriterOptions struct {
	KeyClass   string
	ValueClass string
	// Codec compresses values record by record; empty writes them as is
	Codec    string
	Metadata []MetaEntry
}

// Writer appends records to a sequence file
type Writer struct {
	out      *bufio.Writer
	header   Header
	codec    compression.Compressor
	pos      int64
	lastSync int64
	scratch  []byte
	count    int64
}

// NewWriter writes the file header to w
func NewWriter(w io.Writer, opts WriterOptions) (*Writer, error) {
	for _, c := range []string{opts.KeyClass, opts.ValueClass} {
		if !supportedClass(c) {
			return nil, unsupportedClass(c)
		}
	}
	sw := &Writer{
		out: bufio.NewWriterSize(w, 64*1024),
		header: Header{
			Version:    Version,
			KeyClass:   opts.KeyClass,
			ValueClass: opts.ValueClass,
			Compressed: opts.Codec != "",
			Codec:      opts.Codec,
			Metadata:   opts.Metadata,
			Sync:       uuid.New(),
		},
	}
	if opts.Codec != "" {
		alg, err := codecAlgorithm(opts.Codec)
		if err != nil {
			return nil, err
		}
		if sw.codec, err = compression.NewCompressor(compression.Config{Algorithm: alg}); err != nil {
			return nil, err
		}
	}
	if err := sw.writeHeader(); err != nil {
		return nil, err
	}
	return sw, nil
}

func (w *Writer) writeHeader() error {
	h := &w.header
	b := append([]byte(nil), magic...)
	b = append(b, h.Version)
	b = appendText(b, h.KeyClass)
	b = appendText(b, h.ValueClass)
	b = append(b, boolByte(h.Compressed), boolByte(h.BlockCompressed))
	if h.Compressed {
		b = appendText(b, h.Codec)
	}
	b = binary.BigEndian.AppendUint32(b, uint32(len(h.Metadata)))
	for _, m := range h.Metadata {
		b = appendText(b, m.Key)
		b = appendText(b, m.Value)
	}
	b = append(b, h.Sync[:]...)
	return w.write(b)
}

func appendText(dst []byte, s string) []byte {
	dst = appendVLong(dst, int64(len(s)))
	return append(dst, s...)
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

func (w *Writer) write(b []byte) error {
	n, err := w.out.Write(b)
	w.pos += int64(n)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "sequence file write failed")
	}
	return nil
}

// Header returns the header written to the file
func (w *Writer) Header() *Header { return &w.header }

// Append writes one record of serialized key and value
func (w *Writer) Append(key, value []byte) error {
	if w.pos >= w.lastSync+SyncInterval {
		if err := w.sync(); err != nil {
			return err
		}
	}
	if w.codec != nil {
		var err error
		if value, err = w.codec.Compress(value); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "cannot compress sequence file value")
		}
	}
	b := w.scratch[:0]
	b = binary.BigEndian.AppendUint32(b, uint32(len(key)+len(value)))
	b = binary.BigEndian.AppendUint32(b, uint32(len(key)))
	b = append(b, key...)
	b = append(b, value...)
	w.scratch = b
	if err := w.write(b); err != nil {
		return err
	}
	w.count++
	return nil
}

func (w *Writer) sync() error {
	w.lastSync = w.pos
	b := binary.BigEndian.AppendUint32(nil, uint32(0xFFFFFFFF))
	return w.write(append(b, w.header.Sync[:]...))
}

// Count returns the number of records appended
func (w *Writer) Count() int64 { return w.count }

// Flush writes buffered data to the underlying writer
func (w *Writer) Flush() error {
	if err := w.out.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "sequence file flush failed")
	}
	return nil
}
