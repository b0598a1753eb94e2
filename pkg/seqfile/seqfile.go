// Package seqfile reads and writes Hadoop SequenceFiles (version 6) with
// uncompressed or record-compressed values.
//
// A file starts with "SEQ", a version byte, the key and value class names,
// two compression flags, the codec class name when compressed, a metadata
// block and a 16-byte sync marker. Each record is
//
//	int32 record length | int32 key length | key | value
//
// with a record length of -1 announcing a sync marker instead. All integers
// are big-endian.
package seqfile

import (
	"encoding/binary"
	"io"
	"strconv"

	"github.com/ajitpratap0/quasar/pkg/compression"
	"github.com/ajitpratap0/quasar/pkg/errors"
)

// Version is the only format version written and read
const Version byte = 6

const (
	syncSize   = 16
	syncEscape = -1
	// SyncInterval is the minimum number of bytes between sync markers
	SyncInterval = 100 * (4 + syncSize)
	// MaxRecordSize bounds the record length a reader accepts
	MaxRecordSize = 64 << 20
)

var magic = []byte("SEQ")

// Writable class names
const (
	ClassText          = "org.apache.hadoop.io.Text"
	ClassBytesWritable = "org.apache.hadoop.io.BytesWritable"
	ClassIntWritable   = "org.apache.hadoop.io.IntWritable"
	ClassLongWritable  = "org.apache.hadoop.io.LongWritable"
	ClassNullWritable  = "org.apache.hadoop.io.NullWritable"
)

// Codec class names
const (
	CodecDefault = "org.apache.hadoop.io.compress.DefaultCodec"
	CodecGzip    = "org.apache.hadoop.io.compress.GzipCodec"
	CodecSnappy  = "org.apache.hadoop.io.compress.SnappyCodec"
	CodecLz4     = "org.apache.hadoop.io.compress.Lz4Codec"
	CodecZstd    = "org.apache.hadoop.io.compress.ZStandardCodec"
)

// codecAlgorithm maps a codec class to the compression algorithm behind it
func codecAlgorithm(class string) (compression.Algorithm, error) {
	switch class {
	case CodecDefault:
		return compression.Zlib, nil
	case CodecGzip:
		return compression.Gzip, nil
	case CodecSnappy:
		return compression.Snappy, nil
	case CodecLz4:
		return compression.LZ4, nil
	case CodecZstd:
		return compression.Zstd, nil
	}
	return "", errors.Newf(errors.ErrorTypeCapability, "sequence file codec %s is not supported", class)
}

// MetaEntry is one entry of the file metadata block
type MetaEntry struct {
	Key   string
	Value string
}

// Header is the decoded file header
type Header struct {
	Version         byte
	KeyClass        string
	ValueClass      string
	Compressed      bool
	BlockCompressed bool
	Codec           string
	Metadata        []MetaEntry
	Sync            [syncSize]byte
}

// readVLong decodes a Hadoop variable-length integer
func readVLong(r io.ByteReader) (int64, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	first := int8(b)
	if first >= -112 {
		return int64(first), nil
	}
	negative := first < -120
	size := int(-111 - int(first))
	if negative {
		size = int(-119 - int(first))
	}
	var v int64
	for i := 1; i < size; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, noEOF(err)
		}
		v = v<<8 | int64(b)
	}
	if negative {
		v = ^v
	}
	return v, nil
}

// appendVLong encodes a Hadoop variable-length integer
func appendVLong(dst []byte, v int64) []byte {
	if v >= -112 && v <= 127 {
		return append(dst, byte(v))
	}
	n := -112
	if v < 0 {
		v = ^v
		n = -120
	}
	for tmp := v; tmp != 0; tmp >>= 8 {
		n--
	}
	dst = append(dst, byte(int8(n)))
	if n < -120 {
		n = -(n + 120)
	} else {
		n = -(n + 112)
	}
	for i := n; i != 0; i-- {
		dst = append(dst, byte(v>>uint((i-1)*8)))
	}
	return dst
}

// noEOF turns a premature end of input into io.ErrUnexpectedEOF
func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// DecodeWritable converts a serialized key or value into a Go value: string
// for Text, []byte for BytesWritable, int32, int64, or nil for NullWritable.
func DecodeWritable(class string, b []byte) (interface{}, error) {
	switch class {
	case ClassText:
		n, size := uvarint(b)
		if size <= 0 || int(n) != len(b)-size {
			return nil, errors.Newf(errors.ErrorTypeData, "corrupt Text value of %d bytes", len(b))
		}
		return string(b[size:]), nil
	case ClassBytesWritable:
		if len(b) < 4 || int(binary.BigEndian.Uint32(b)) != len(b)-4 {
			return nil, errors.Newf(errors.ErrorTypeData, "corrupt BytesWritable value of %d bytes", len(b))
		}
		return b[4:], nil
	case ClassIntWritable:
		if len(b) != 4 {
			return nil, errors.Newf(errors.ErrorTypeData, "IntWritable needs 4 bytes, got %d", len(b))
		}
		return int32(binary.BigEndian.Uint32(b)), nil
	case ClassLongWritable:
		if len(b) != 8 {
			return nil, errors.Newf(errors.ErrorTypeData, "LongWritable needs 8 bytes, got %d", len(b))
		}
		return int64(binary.BigEndian.Uint64(b)), nil
	case ClassNullWritable:
		return nil, nil
	}
	return nil, unsupportedClass(class)
}

// uvarint decodes the length prefix of a Text value
func uvarint(b []byte) (int64, int) {
	r := &sliceReader{b: b}
	v, err := readVLong(r)
	if err != nil || v < 0 {
		return 0, -1
	}
	return v, r.pos
}

type sliceReader struct {
	b   []byte
	pos int
}

func (r *sliceReader) ReadByte() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	c := r.b[r.pos]
	r.pos++
	return c, nil
}

// AppendWritable serializes v as the given class
func AppendWritable(dst []byte, class string, v interface{}) ([]byte, error) {
	switch class {
	case ClassText:
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case []byte:
			s = string(t)
		case nil:
		default:
			return nil, mismatch(class, v)
		}
		dst = appendVLong(dst, int64(len(s)))
		return append(dst, s...), nil
	case ClassBytesWritable:
		var b []byte
		switch t := v.(type) {
		case []byte:
			b = t
		case string:
			b = []byte(t)
		case nil:
		default:
			return nil, mismatch(class, v)
		}
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(b)))
		return append(dst, b...), nil
	case ClassIntWritable:
		n, ok := v.(int32)
		if !ok && v != nil {
			return nil, mismatch(class, v)
		}
		return binary.BigEndian.AppendUint32(dst, uint32(n)), nil
	case ClassLongWritable:
		n, ok := v.(int64)
		if !ok && v != nil {
			return nil, mismatch(class, v)
		}
		return binary.BigEndian.AppendUint64(dst, uint64(n)), nil
	case ClassNullWritable:
		return dst, nil
	}
	return nil, unsupportedClass(class)
}

func mismatch(class string, v interface{}) error {
	return errors.Newf(errors.ErrorTypeContract, "%T cannot be written as %s", v, class)
}

func unsupportedClass(class string) error {
	return errors.Newf(errors.ErrorTypeCapability, "writable class %s is not supported", class)
}

func supportedClass(class string) bool {
	switch class {
	case ClassText, ClassBytesWritable, ClassIntWritable, ClassLongWritable, ClassNullWritable:
		return true
	}
	return false
}

func recordError(n int64, msg string) error {
	return errors.New(errors.ErrorTypeData, "sequence file record "+strconv.FormatInt(n, 10)+": "+msg)
}
