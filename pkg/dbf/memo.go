package dbf

import (
	"bytes"
	"encoding/binary"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ajitpratap0/quasar/pkg/errors"
)

// MemoKind selects the memo file layout
type MemoKind int

const (
	// MemoFPT is the FoxPro layout: big-endian header, typed blocks
	MemoFPT MemoKind = iota
	// MemoDBT is the dBase layout: little-endian header, marked blocks
	MemoDBT
)

const (
	fptHeaderSize              = 512
	fptDefaultBlockSize        = 64
	dbtDefaultBlockSize        = 512
	memoBlockHeaderSize        = 8
	fptTypeText         uint32 = 1
	maxMemoLength              = 64 << 20
)

var dbtBlockMarker = []byte{0xFF, 0xFF, 0x08, 0x00}

// MemoKindForPath returns the memo layout implied by a file extension
func MemoKindForPath(path string) (MemoKind, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fpt":
		return MemoFPT, true
	case ".dbt":
		return MemoDBT, true
	}
	return 0, false
}

// MemoPath returns the companion memo file path of a table
func MemoPath(tablePath string, tableType byte) string {
	ext := ".dbt"
	if tableType == TypeFoxProMemo || isVisualFoxPro(tableType) {
		ext = ".fpt"
	}
	cur := filepath.Ext(tablePath)
	if cur != "" && cur == strings.ToUpper(cur) {
		ext = strings.ToUpper(ext)
	}
	return strings.TrimSuffix(tablePath, cur) + ext
}

// BlockStatus classifies the block number stored in a memo field
type BlockStatus int

const (
	// BlockBlank means the field has no memo
	BlockBlank BlockStatus = iota
	// BlockInvalid means the field holds something other than a number
	BlockInvalid
	// BlockValid means the number points at a memo block
	BlockValid
)

// ParseBlockNumber reads the ASCII block number of a memo field. Blank,
// all-zero and space-only values have no memo.
func ParseBlockNumber(raw []byte) (uint32, BlockStatus) {
	s := strings.TrimSpace(string(bytes.TrimRight(raw, "\x00")))
	if s == "" {
		return 0, BlockBlank
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, BlockInvalid
	}
	if n == 0 {
		return 0, BlockBlank
	}
	return uint32(n), BlockValid
}

// parseBinaryBlockNumber reads the 4-byte block number of Visual FoxPro memo fields
func parseBinaryBlockNumber(raw []byte) (uint32, BlockStatus) {
	n := binary.LittleEndian.Uint32(raw)
	if n == 0 {
		return 0, BlockBlank
	}
	return n, BlockValid
}

// MemoReader resolves memo block numbers to their content
type MemoReader interface {
	ReadBlock(n uint32) ([]byte, error)
	BlockSize() int
}

type memoReader struct {
	r         io.ReaderAt
	kind      MemoKind
	blockSize int
}

// NewMemoReader reads the memo file header and returns a reader for its blocks
func NewMemoReader(r io.ReaderAt, kind MemoKind) (MemoReader, error) {
	var hdr [24]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "cannot read memo header")
	}
	m := &memoReader{r: r, kind: kind}
	switch kind {
	case MemoFPT:
		m.blockSize = int(binary.BigEndian.Uint16(hdr[6:8]))
		if m.blockSize == 0 {
			m.blockSize = fptDefaultBlockSize
		}
	case MemoDBT:
		m.blockSize = int(binary.LittleEndian.Uint16(hdr[20:22]))
		if m.blockSize == 0 {
			m.blockSize = dbtDefaultBlockSize
		}
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown memo kind %d", kind)
	}
	return m, nil
}

func (m *memoReader) BlockSize() int { return m.blockSize }

func (m *memoReader) ReadBlock(n uint32) ([]byte, error) {
	off := int64(n) * int64(m.blockSize)
	var hdr [memoBlockHeaderSize]byte
	if _, err := m.r.ReadAt(hdr[:], off); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "cannot read memo block "+strconv.FormatUint(uint64(n), 10))
	}

	var length int64
	switch {
	case m.kind == MemoFPT:
		length = int64(binary.BigEndian.Uint32(hdr[4:8]))
	case bytes.Equal(hdr[0:4], dbtBlockMarker):
		length = int64(binary.LittleEndian.Uint32(hdr[4:8])) - memoBlockHeaderSize
	default:
		return m.readTerminated(off)
	}
	if length < 0 || length > maxMemoLength {
		return nil, errors.Newf(errors.ErrorTypeData, "memo block %d has invalid length %d", n, length)
	}
	data := make([]byte, length)
	if _, err := m.r.ReadAt(data, off+memoBlockHeaderSize); err != nil && !(err == io.EOF && length == 0) {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "memo block "+strconv.FormatUint(uint64(n), 10)+" is truncated")
	}
	return data, nil
}

// readTerminated reads dBase III memos, which end with 0x1A 0x1A instead of
// carrying a length.
func (m *memoReader) readTerminated(off int64) ([]byte, error) {
	var out []byte
	chunk := make([]byte, m.blockSize)
	for len(out) < maxMemoLength {
		n, err := m.r.ReadAt(chunk, off)
		if i := bytes.IndexByte(chunk[:n], EOFMarker); i >= 0 {
			return append(out, chunk[:i]...), nil
		}
		out = append(out, chunk[:n]...)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeIO, "cannot read memo")
		}
		off += int64(n)
	}
	return nil, errors.New(errors.ErrorTypeData, "memo exceeds maximum length")
}

// MemoWriter appends memo blocks and keeps the next-free-block pointer of
// the header current.
type MemoWriter struct {
	w         io.WriteSeeker
	kind      MemoKind
	blockSize int
	next      uint32
	start     int64
	buf       []byte
}

// NewMemoWriter writes a memo header to w. A blockSize of 0 selects the
// layout default.
func NewMemoWriter(w io.WriteSeeker, kind MemoKind, blockSize int) (*MemoWriter, error) {
	if blockSize == 0 {
		blockSize = fptDefaultBlockSize
		if kind == MemoDBT {
			blockSize = dbtDefaultBlockSize
		}
	}
	if blockSize < 32 || blockSize > 0xFFFF {
		return nil, errors.Newf(errors.ErrorTypeConfig, "memo block size %d out of range", blockSize)
	}
	start, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "memo target is not seekable")
	}
	mw := &MemoWriter{w: w, kind: kind, blockSize: blockSize, start: start}

	var hdr []byte
	switch kind {
	case MemoFPT:
		hdr = make([]byte, fptHeaderSize)
		binary.BigEndian.PutUint16(hdr[6:8], uint16(blockSize))
	case MemoDBT:
		hdr = make([]byte, blockSize)
		binary.LittleEndian.PutUint16(hdr[20:22], uint16(blockSize))
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown memo kind %d", kind)
	}
	mw.next = uint32((len(hdr) + blockSize - 1) / blockSize)
	mw.putNext(hdr)
	if err := mw.pad(hdr); err != nil {
		return nil, err
	}
	return mw, nil
}

func (mw *MemoWriter) putNext(hdr []byte) {
	if mw.kind == MemoFPT {
		binary.BigEndian.PutUint32(hdr[0:4], mw.next)
	} else {
		binary.LittleEndian.PutUint32(hdr[0:4], mw.next)
	}
}

// pad writes b followed by zeros up to the next block boundary
func (mw *MemoWriter) pad(b []byte) error {
	blocks := (len(b) + mw.blockSize - 1) / mw.blockSize
	total := blocks * mw.blockSize
	mw.buf = append(mw.buf[:0], b...)
	for len(mw.buf) < total {
		mw.buf = append(mw.buf, 0)
	}
	if _, err := mw.w.Write(mw.buf); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "memo write failed")
	}
	return nil
}

// Write appends a memo and returns its block number
func (mw *MemoWriter) Write(data []byte) (uint32, error) {
	if len(data) > maxMemoLength {
		return 0, errors.Newf(errors.ErrorTypeData, "memo of %d bytes exceeds maximum length", len(data))
	}
	block := make([]byte, memoBlockHeaderSize, memoBlockHeaderSize+len(data))
	if mw.kind == MemoFPT {
		binary.BigEndian.PutUint32(block[0:4], fptTypeText)
		binary.BigEndian.PutUint32(block[4:8], uint32(len(data)))
	} else {
		copy(block[0:4], dbtBlockMarker)
		binary.LittleEndian.PutUint32(block[4:8], uint32(len(data)+memoBlockHeaderSize))
	}
	block = append(block, data...)

	n := mw.next
	if err := mw.pad(block); err != nil {
		return 0, err
	}
	mw.next += uint32((len(block) + mw.blockSize - 1) / mw.blockSize)
	return n, nil
}

// NextBlock returns the block number the next Write will use
func (mw *MemoWriter) NextBlock() uint32 { return mw.next }

// Close rewrites the next-free-block pointer. The target is not closed.
func (mw *MemoWriter) Close() error {
	var ptr [4]byte
	mw.putNext(ptr[:])
	if _, err := mw.w.Seek(mw.start, io.SeekStart); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "memo seek failed")
	}
	if _, err := mw.w.Write(ptr[:]); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "memo header rewrite failed")
	}
	if _, err := mw.w.Seek(0, io.SeekEnd); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "memo seek failed")
	}
	return nil
}
