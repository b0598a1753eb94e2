package seqfile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"strconv"

	"github.com/ajitpratap0/quasar/pkg/compression"
	"github.com/ajitpratap0/quasar/pkg/errors"
)

// Reader iterates over the records of a sequence file
type Reader struct {
	in     *bufio.Reader
	header Header
	codec  compression.Compressor
	buf    []byte
	count  int64
}

// NewReader reads the file header. Block-compressed files and unknown codecs
// are capability errors.
func NewReader(r io.Reader) (*Reader, error) {
	sr := &Reader{in: bufio.NewReaderSize(r, 64*1024)}
	if err := sr.readHeader(); err != nil {
		return nil, err
	}
	return sr, nil
}

func (r *Reader) readHeader() error {
	var head [4]byte
	if _, err := io.ReadFull(r.in, head[:]); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "cannot read sequence file header")
	}
	if !bytes.Equal(head[:3], magic) {
		return errors.New(errors.ErrorTypeData, "not a sequence file")
	}
	h := &r.header
	h.Version = head[3]
	if h.Version != Version {
		return errors.Newf(errors.ErrorTypeCapability, "sequence file version %d is not supported", h.Version)
	}

	var err error
	if h.KeyClass, err = r.readText(); err != nil {
		return err
	}
	if h.ValueClass, err = r.readText(); err != nil {
		return err
	}
	if h.Compressed, err = r.readBool(); err != nil {
		return err
	}
	if h.BlockCompressed, err = r.readBool(); err != nil {
		return err
	}
	if h.Compressed {
		if h.Codec, err = r.readText(); err != nil {
			return err
		}
	}

	var n [4]byte
	if _, err := io.ReadFull(r.in, n[:]); err != nil {
		return errors.Wrap(noEOF(err), errors.ErrorTypeIO, "cannot read sequence file metadata")
	}
	count := int32(binary.BigEndian.Uint32(n[:]))
	if count < 0 {
		return errors.Newf(errors.ErrorTypeData, "invalid metadata count %d", count)
	}
	for i := int32(0); i < count; i++ {
		k, err := r.readText()
		if err != nil {
			return err
		}
		v, err := r.readText()
		if err != nil {
			return err
		}
		h.Metadata = append(h.Metadata, MetaEntry{Key: k, Value: v})
	}
	if _, err := io.ReadFull(r.in, h.Sync[:]); err != nil {
		return errors.Wrap(noEOF(err), errors.ErrorTypeIO, "cannot read sync marker")
	}

	if h.BlockCompressed {
		return errors.New(errors.ErrorTypeCapability, "block-compressed sequence files are not supported")
	}
	if h.Compressed {
		alg, err := codecAlgorithm(h.Codec)
		if err != nil {
			return err
		}
		if r.codec, err = compression.NewCompressor(compression.Config{Algorithm: alg}); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) readText() (string, error) {
	n, err := readVLong(r.in)
	if err != nil {
		return "", errors.Wrap(noEOF(err), errors.ErrorTypeIO, "cannot read sequence file header")
	}
	if n < 0 || n > 1<<20 {
		return "", errors.Newf(errors.ErrorTypeData, "invalid header string length %d", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.in, b); err != nil {
		return "", errors.Wrap(noEOF(err), errors.ErrorTypeIO, "cannot read sequence file header")
	}
	return string(b), nil
}

func (r *Reader) readBool() (bool, error) {
	b, err := r.in.ReadByte()
	if err != nil {
		return false, errors.Wrap(noEOF(err), errors.ErrorTypeIO, "cannot read sequence file header")
	}
	return b != 0, nil
}

// Header returns the decoded header
func (r *Reader) Header() *Header { return &r.header }

// Count returns the number of records read so far
func (r *Reader) Count() int64 { return r.count }

// Next returns the serialized key and value of the next record, with the
// value decompressed. It returns io.EOF after the last record. The slices are
// valid until the following call.
func (r *Reader) Next() (key, value []byte, err error) {
	var n [8]byte
	for {
		if _, err := io.ReadFull(r.in, n[:4]); err != nil {
			if err == io.EOF {
				return nil, nil, io.EOF
			}
			return nil, nil, errors.Wrap(err, errors.ErrorTypeIO, "cannot read sequence file record")
		}
		if int32(binary.BigEndian.Uint32(n[:4])) != syncEscape {
			break
		}
		var sync [syncSize]byte
		if _, err := io.ReadFull(r.in, sync[:]); err != nil {
			return nil, nil, errors.Wrap(noEOF(err), errors.ErrorTypeIO, "cannot read sync marker")
		}
		if sync != r.header.Sync {
			return nil, nil, recordError(r.count+1, "sync marker does not match header")
		}
	}
	r.count++
	if _, err := io.ReadFull(r.in, n[4:]); err != nil {
		return nil, nil, errors.Wrap(noEOF(err), errors.ErrorTypeIO, "cannot read sequence file record")
	}
	recLen := int32(binary.BigEndian.Uint32(n[:4]))
	keyLen := int32(binary.BigEndian.Uint32(n[4:]))
	if recLen < 0 || keyLen < 0 || keyLen > recLen {
		return nil, nil, recordError(r.count, "invalid record or key length")
	}
	if recLen > MaxRecordSize {
		return nil, nil, recordError(r.count, "record length "+strconv.Itoa(int(recLen))+" exceeds limit")
	}
	if cap(r.buf) < int(recLen) {
		r.buf = make([]byte, recLen)
	}
	r.buf = r.buf[:recLen]
	if _, err := io.ReadFull(r.in, r.buf); err != nil {
		return nil, nil, errors.Wrap(noEOF(err), errors.ErrorTypeIO, "sequence file record is truncated")
	}
	key, value = r.buf[:keyLen], r.buf[keyLen:]
	if r.codec != nil {
		if value, err = r.codec.Decompress(value); err != nil {
			return nil, nil, errors.Wrap(err, errors.ErrorTypeData, "cannot decompress sequence file value")
		}
	}
	return key, value, nil
}
