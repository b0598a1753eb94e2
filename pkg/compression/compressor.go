// Package compression wraps input and output streams with compression
// codecs so that readers and writers can consume "orders.csv.gz" the same way
// they consume "orders.csv".
//
// # Overview
//
// The package provides:
//   - stream wrappers (NewReader, NewWriter) selected by algorithm
//   - algorithm detection from file extensions (FromExtension)
//   - in-memory Compressor values for SequenceFile record compression,
//     including the Hadoop block layout of Snappy and LZ4
//
// # Basic Usage
//
//	alg := compression.FromExtension("orders.csv.gz")
//	rc, err := compression.NewReader(file, alg)
//	defer rc.Close()
//
//	comp, err := compression.NewCompressor(compression.Config{Algorithm: compression.Zlib})
//	packed, err := comp.Compress(value)
package compression

import (
	"bytes"
	"encoding/binary"
	"io"
	"path"
	"strings"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None represents no compression
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Zlib represents zlib framed deflate, the Hadoop DefaultCodec
	Zlib Algorithm = "zlib"
	// Snappy represents snappy framed compression
	Snappy Algorithm = "snappy"
	// LZ4 represents lz4 frame compression
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// S2 represents s2 compression (Snappy compatible)
	S2 Algorithm = "s2"
	// Deflate represents raw deflate compression
	Deflate Algorithm = "deflate"
)

// Level represents compression level, controlling the trade-off between
// compression speed and compression ratio.
type Level int

const (
	// Fastest prioritizes speed over compression ratio.
	Fastest Level = 1
	// Default balances speed and compression.
	Default Level = 5
	// Better improves compression at cost of speed.
	Better Level = 7
	// Best maximizes compression ratio.
	Best Level = 9
)

// String returns the level name
func (l Level) String() string {
	switch l {
	case Fastest:
		return "fastest"
	case Default:
		return "default"
	case Better:
		return "better"
	case Best:
		return "best"
	default:
		return "unknown"
	}
}

var extensions = map[string]Algorithm{
	".gz":      Gzip,
	".gzip":    Gzip,
	".zz":      Zlib,
	".zlib":    Zlib,
	".deflate": Deflate,
	".snappy":  Snappy,
	".sz":      Snappy,
	".lz4":     LZ4,
	".zst":     Zstd,
	".zstd":    Zstd,
	".s2":      S2,
}

// FromExtension returns the algorithm implied by the last extension of name,
// or None.
func FromExtension(name string) Algorithm {
	if alg, ok := extensions[strings.ToLower(path.Ext(name))]; ok {
		return alg
	}
	return None
}

// Extension returns the conventional file extension for alg
func Extension(alg Algorithm) string {
	switch alg {
	case Gzip:
		return ".gz"
	case Zlib:
		return ".zz"
	case Deflate:
		return ".deflate"
	case Snappy:
		return ".snappy"
	case LZ4:
		return ".lz4"
	case Zstd:
		return ".zst"
	case S2:
		return ".s2"
	default:
		return ""
	}
}

// Parse converts a configuration string into an Algorithm. "auto" and ""
// return None; callers resolve them with FromExtension.
func Parse(s string) (Algorithm, error) {
	alg := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	switch alg {
	case "", "auto":
		return None, nil
	case None, Gzip, Zlib, Snappy, LZ4, Zstd, S2, Deflate:
		return alg, nil
	}
	return "", errors.Newf(errors.ErrorTypeConfig, "unsupported compression algorithm: %s", s)
}

// NewReader returns a reader decompressing r. Closing it does not close r.
func NewReader(r io.Reader, alg Algorithm) (io.ReadCloser, error) {
	switch alg {
	case None, "":
		return io.NopCloser(r), nil
	case Gzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeIO, "cannot open gzip stream")
		}
		return zr, nil
	case Zlib:
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeIO, "cannot open zlib stream")
		}
		return zr, nil
	case Deflate:
		return flate.NewReader(r), nil
	case Snappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	case S2:
		return io.NopCloser(s2.NewReader(r)), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeIO, "cannot open zstd stream")
		}
		return dec.IOReadCloser(), nil
	}
	return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported compression algorithm: %s", alg)
}

// NewWriter returns a writer compressing into w. Close flushes the codec
// but does not close w.
func NewWriter(w io.Writer, alg Algorithm, level Level) (io.WriteCloser, error) {
	switch alg {
	case None, "":
		return nopWriteCloser{w}, nil
	case Gzip:
		return gzip.NewWriterLevel(w, mapFlateLevel(level))
	case Zlib:
		return zlib.NewWriterLevel(w, mapFlateLevel(level))
	case Deflate:
		return flate.NewWriter(w, mapFlateLevel(level))
	case Snappy:
		return snappy.NewBufferedWriter(w), nil
	case S2:
		return s2.NewWriter(w), nil
	case LZ4:
		lw := lz4.NewWriter(w)
		if err := lw.Apply(lz4.CompressionLevelOption(mapLZ4Level(level))); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid lz4 level")
		}
		return lw, nil
	case Zstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(mapZstdLevel(level)))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "cannot create zstd writer")
		}
		return enc, nil
	}
	return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported compression algorithm: %s", alg)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// Compressor compresses and decompresses whole buffers.
// All implementations are safe for concurrent use.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Algorithm() Algorithm
	Level() Level
}

// Config represents compressor configuration.
type Config struct {
	Algorithm Algorithm
	Level     Level
}

// NewCompressor creates a compressor. Snappy and LZ4 produce the Hadoop
// block layout (see BlockCompressor); every other algorithm produces the
// same bytes as its stream writer.
func NewCompressor(config Config) (Compressor, error) {
	if config.Level == 0 {
		config.Level = Default
	}

	switch config.Algorithm {
	case Snappy:
		return &BlockCompressor{algorithm: Snappy, level: config.Level, encode: snappyEncode, decode: snappyDecode}, nil
	case LZ4:
		return &BlockCompressor{algorithm: LZ4, level: config.Level, encode: lz4Encode, decode: lz4Decode}, nil
	case Zstd:
		return newZstdCompressor(config.Level)
	case None, Gzip, Zlib, Deflate, S2:
		return &streamCompressor{algorithm: config.Algorithm, level: config.Level}, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported compression algorithm: %s", config.Algorithm)
	}
}

// streamCompressor runs a whole buffer through the stream codecs
type streamCompressor struct {
	algorithm Algorithm
	level     Level
}

func (sc *streamCompressor) Algorithm() Algorithm { return sc.algorithm }
func (sc *streamCompressor) Level() Level         { return sc.level }

func (sc *streamCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, sc.algorithm, sc.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "compress failed")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "compress failed")
	}
	return buf.Bytes(), nil
}

func (sc *streamCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := NewReader(bytes.NewReader(data), sc.algorithm)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "decompress failed")
	}
	return out, nil
}

const (
	// BlockSize is the uncompressed size of one Hadoop block
	BlockSize = 256 << 10
	// maxBlockSize bounds the uncompressed length read from a block header
	maxBlockSize = 64 << 20
)

// BlockCompressor writes the layout of Hadoop's block compressor stream,
// used by SnappyCodec and Lz4Codec. Input is cut into blocks of BlockSize;
// each block is a big-endian int32 uncompressed length followed by one or
// more chunks, each an int32 compressed length and the raw codec output.
type BlockCompressor struct {
	algorithm Algorithm
	level     Level
	encode    func(src []byte) ([]byte, error)
	decode    func(src []byte, uncompressed int) ([]byte, error)
}

// Algorithm returns Snappy or LZ4
func (bc *BlockCompressor) Algorithm() Algorithm { return bc.algorithm }

// Level returns the configured level. Both block codecs ignore it.
func (bc *BlockCompressor) Level() Level { return bc.level }

// Compress frames data as Hadoop blocks. Empty input gives empty output.
func (bc *BlockCompressor) Compress(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data)/2+16)
	for len(data) > 0 {
		n := len(data)
		if n > BlockSize {
			n = BlockSize
		}
		chunk, err := bc.encode(data[:n])
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, string(bc.algorithm)+" compress failed")
		}
		out = binary.BigEndian.AppendUint32(out, uint32(n))
		out = binary.BigEndian.AppendUint32(out, uint32(len(chunk)))
		out = append(out, chunk...)
		data = data[n:]
	}
	return out, nil
}

// Decompress reads blocks until data is exhausted
func (bc *BlockCompressor) Decompress(data []byte) ([]byte, error) {
	var out []byte
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, bc.corrupt("truncated block header")
		}
		want := int(binary.BigEndian.Uint32(data))
		data = data[4:]
		if want < 0 || want > maxBlockSize {
			return nil, bc.corrupt("invalid block length")
		}
		got := 0
		for got < want {
			if len(data) < 4 {
				return nil, bc.corrupt("truncated chunk header")
			}
			n := int(binary.BigEndian.Uint32(data))
			data = data[4:]
			if n <= 0 || n > len(data) {
				return nil, bc.corrupt("invalid chunk length")
			}
			plain, err := bc.decode(data[:n], want-got)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeData, string(bc.algorithm)+" decode failed")
			}
			if got+len(plain) > want {
				return nil, bc.corrupt("chunk longer than its block")
			}
			out = append(out, plain...)
			got += len(plain)
			data = data[n:]
		}
	}
	return out, nil
}

func (bc *BlockCompressor) corrupt(msg string) error {
	return errors.Newf(errors.ErrorTypeData, "%s block stream: %s", bc.algorithm, msg)
}

func snappyEncode(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func snappyDecode(src []byte, _ int) ([]byte, error) {
	return snappy.Decode(nil, src)
}

func lz4Encode(src []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, dst, nil)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}

// lz4Decode decodes one chunk; remaining bounds its output
func lz4Decode(src []byte, remaining int) ([]byte, error) {
	dst := make([]byte, remaining)
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}

type zstdCompressor struct {
	level Level
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

func newZstdCompressor(level Level) (*zstdCompressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(mapZstdLevel(level)))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "cannot create zstd encoder")
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxBlockSize))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "cannot create zstd decoder")
	}
	return &zstdCompressor{level: level, enc: enc, dec: dec}, nil
}

func (zc *zstdCompressor) Algorithm() Algorithm { return Zstd }
func (zc *zstdCompressor) Level() Level         { return zc.level }

// EncodeAll and DecodeAll are safe for concurrent use
func (zc *zstdCompressor) Compress(data []byte) ([]byte, error) {
	return zc.enc.EncodeAll(data, nil), nil
}

func (zc *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	out, err := zc.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "zstd decode failed")
	}
	return out, nil
}

func mapFlateLevel(level Level) int {
	switch level {
	case Fastest:
		return flate.BestSpeed
	case Best:
		return flate.BestCompression
	default:
		return flate.DefaultCompression
	}
}

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest:
		return lz4.Fast
	case Best:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Better:
		return zstd.SpeedBetterCompression
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}
