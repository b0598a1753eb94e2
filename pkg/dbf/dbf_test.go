package dbf

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/metadata"
	"github.com/ajitpratap0/quasar/pkg/parser"
	"github.com/ajitpratap0/quasar/pkg/record"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func twoCharMeta() *metadata.Metadata {
	return &metadata.Metadata{
		Name: "pair",
		Type: metadata.RecordFixed,
		Fields: []metadata.FieldMetadata{
			{Name: "A", Type: metadata.TypeString, Size: 5},
			{Name: "B", Type: metadata.TypeString, Size: 5},
		},
	}
}

func ordersMeta() *metadata.Metadata {
	return &metadata.Metadata{
		Name: "orders",
		Type: metadata.RecordFixed,
		Fields: []metadata.FieldMetadata{
			{Name: "NAME", Type: metadata.TypeString, Size: 10, Nullable: true},
			{Name: "QTY", Type: metadata.TypeInteger, Size: 5, Nullable: true},
			{Name: "PRICE", Type: metadata.TypeDecimal, Size: 10, Scale: 2, Nullable: true},
			{Name: "BORN", Type: metadata.TypeDate, Size: 8, Nullable: true},
			{Name: "ACTIVE", Type: metadata.TypeBoolean, Size: 1, Nullable: true},
		},
	}
}

func writeTable(t *testing.T, w interface{ Write([]byte) (int, error) }, meta *metadata.Metadata, rows ...[]interface{}) {
	t.Helper()
	f := NewFormatter(parser.Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, f.Init(meta))
	require.NoError(t, f.SetDataTarget(w))
	rec := record.New(meta)
	for _, row := range rows {
		for i, v := range row {
			require.NoError(t, rec.Field(i).SetValue(v))
		}
		_, err := f.Write(rec)
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())
}

func tempFile(t *testing.T, name string) *os.File {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), name))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestFileSize(t *testing.T) {
	file := tempFile(t, "pair.dbf")
	writeTable(t, file, twoCharMeta(), []interface{}{"ab", "cde"})

	info, err := file.Stat()
	require.NoError(t, err)
	assert.EqualValues(t, 32+64+1+11+1, info.Size())

	// A target that cannot seek receives the same bytes
	var buf bytes.Buffer
	writeTable(t, &buf, twoCharMeta(), []interface{}{"ab", "cde"})
	assert.Equal(t, 109, buf.Len())

	onDisk, err := os.ReadFile(file.Name())
	require.NoError(t, err)
	assert.Equal(t, onDisk[4:], buf.Bytes()[4:])
	assert.Equal(t, byte(1), buf.Bytes()[4])
	assert.Equal(t, []byte("ab   cde  "), buf.Bytes()[98:108])
	assert.Equal(t, EOFMarker, buf.Bytes()[108])
}

func TestRoundTrip(t *testing.T) {
	born := time.Date(1980, 1, 31, 0, 0, 0, 0, time.UTC)
	file := tempFile(t, "orders.dbf")
	writeTable(t, file, ordersMeta(),
		[]interface{}{"Anna", int32(42), decimal.RequireFromString("12.5"), born, true},
		[]interface{}{"Bob", nil, nil, nil, nil},
	)

	_, err := file.Seek(0, 0)
	require.NoError(t, err)
	info, err := Analyze(file)
	require.NoError(t, err)
	assert.Equal(t, TypeDBase3, info.Type)
	assert.EqualValues(t, 2, info.Rows)
	require.Len(t, info.Fields, 5)
	assert.Equal(t, "PRICE N(10,2)", info.Fields[2].String())

	meta := info.Metadata("orders")
	assert.Equal(t, metadata.TypeInteger, meta.Fields[1].Type)
	assert.Equal(t, metadata.TypeDecimal, meta.Fields[2].Type)
	assert.Equal(t, metadata.TypeDate, meta.Fields[3].Type)
	assert.Equal(t, metadata.TypeBoolean, meta.Fields[4].Type)

	_, err = file.Seek(0, 0)
	require.NoError(t, err)
	p := NewParser(parser.Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, p.Init(nil))
	require.NoError(t, p.SetDataSource(file, "orders.dbf"))
	assert.Equal(t, "orders", p.Metadata().Name)

	rec := record.New(p.Metadata())
	got, err := p.GetNext(rec)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "NAME=Anna;QTY=42;PRICE=12.50;BORN=19800131;ACTIVE=true", got.String())

	got, err = p.GetNext(rec)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Bob", got.Field(0).Value())
	for i := 1; i < 5; i++ {
		assert.True(t, got.Field(i).IsNull(), got.Field(i).Name())
	}

	got, err = p.GetNext(rec)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.EqualValues(t, 2, p.RecordCount())
}

func TestParserValidatesMetadata(t *testing.T) {
	var buf bytes.Buffer
	writeTable(t, &buf, twoCharMeta(), []interface{}{"x", "y"})

	short := &metadata.Metadata{Name: "one", Fields: []metadata.FieldMetadata{{Name: "A", Size: 5}}}
	p := NewParser(parser.Options{})
	require.NoError(t, p.Init(short))
	err := p.SetDataSource(bytes.NewReader(buf.Bytes()), "pair.dbf")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	wrongType := twoCharMeta()
	wrongType.Fields[1].Type = metadata.TypeDate
	wrongType.Fields[1].Size = 8
	p = NewParser(parser.Options{})
	require.NoError(t, p.Init(wrongType))
	err = p.SetDataSource(bytes.NewReader(buf.Bytes()), "pair.dbf")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestUnsupportedFieldType(t *testing.T) {
	var buf bytes.Buffer
	writeTable(t, &buf, twoCharMeta(), []interface{}{"x", "y"})
	raw := buf.Bytes()
	raw[HeaderSize+DescriptorSize+11] = 'X'

	p := NewParser(parser.Options{})
	require.NoError(t, p.Init(nil))
	err := p.SetDataSource(bytes.NewReader(raw), "pair.dbf")
	assert.True(t, errors.HasType(err, errors.ErrorTypeCapability))
}

func TestDeletedRows(t *testing.T) {
	var buf bytes.Buffer
	writeTable(t, &buf, twoCharMeta(), []interface{}{"gone", "1"}, []interface{}{"kept", "2"})
	raw := buf.Bytes()
	raw[97] = RowDeleted

	read := func(includeDeleted bool) []string {
		p := NewParser(parser.Options{})
		p.IncludeDeleted(includeDeleted)
		require.NoError(t, p.Init(twoCharMeta()))
		require.NoError(t, p.SetDataSource(bytes.NewReader(raw), "pair.dbf"))
		rec := record.New(p.Metadata())
		var out []string
		for {
			got, err := p.GetNext(rec)
			require.NoError(t, err)
			if got == nil {
				return out
			}
			out = append(out, got.Field(0).String())
		}
	}
	assert.Equal(t, []string{"kept"}, read(false))
	assert.Equal(t, []string{"gone", "kept"}, read(true))
}

func TestParserSkip(t *testing.T) {
	var buf bytes.Buffer
	writeTable(t, &buf, twoCharMeta(), []interface{}{"gone", "1"}, []interface{}{"kept", "2"}, []interface{}{"last", "3"})
	raw := buf.Bytes()
	raw[97] = RowDeleted

	tests := []struct {
		name           string
		includeDeleted bool
		skip           int
		skipped        int
		next           string
	}{
		{name: "deleted rows do not count", skip: 1, skipped: 1, next: "last"},
		{name: "deleted rows count when delivered", includeDeleted: true, skip: 1, skipped: 1, next: "kept"},
		{name: "past the end", skip: 5, skipped: 2},
		{name: "past the end with deleted", includeDeleted: true, skip: 5, skipped: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParser(parser.Options{})
			p.IncludeDeleted(tt.includeDeleted)
			require.NoError(t, p.Init(twoCharMeta()))
			require.NoError(t, p.SetDataSource(bytes.NewReader(raw), "pair.dbf"))

			n, err := p.Skip(tt.skip)
			require.NoError(t, err)
			assert.Equal(t, tt.skipped, n)

			got, err := p.GetNext(record.New(p.Metadata()))
			require.NoError(t, err)
			if tt.next == "" {
				assert.Nil(t, got)
				return
			}
			assert.Equal(t, tt.next, got.Field(0).String())
		})
	}
}

func TestParserSkipDoesNotPopulate(t *testing.T) {
	meta := &metadata.Metadata{Name: "qty", Type: metadata.RecordFixed,
		Fields: []metadata.FieldMetadata{{Name: "QTY", Type: metadata.TypeInteger, Size: 5}}}
	var buf bytes.Buffer
	writeTable(t, &buf, meta, []interface{}{int32(1)}, []interface{}{int32(7)})
	raw := buf.Bytes()
	copy(raw[66:71], " abc ")

	p := NewParser(parser.Options{})
	require.NoError(t, p.Init(meta))
	h := parser.NewExceptionHandler(parser.PolicyStrict, zaptest.NewLogger(t))
	p.SetExceptionHandler(h)
	require.NoError(t, p.SetDataSource(bytes.NewReader(raw), "qty.dbf"))

	n, err := p.Skip(1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, h.Total())

	got, err := p.GetNext(record.New(meta))
	require.NoError(t, err)
	assert.Equal(t, int32(7), got.Field(0).Value())
}

func TestParserSkipWithoutSource(t *testing.T) {
	p := NewParser(parser.Options{})
	require.NoError(t, p.Init(twoCharMeta()))
	_, err := p.Skip(1)
	assert.True(t, errors.IsType(err, errors.ErrorTypeContract))
}

func TestTruncatedRow(t *testing.T) {
	var buf bytes.Buffer
	writeTable(t, &buf, twoCharMeta(), []interface{}{"a", "b"}, []interface{}{"c", "d"})
	raw := buf.Bytes()[:97+11+4]

	p := NewParser(parser.Options{})
	require.NoError(t, p.Init(twoCharMeta()))
	require.NoError(t, p.SetDataSource(bytes.NewReader(raw), "pair.dbf"))
	rec := record.New(p.Metadata())

	got, err := p.GetNext(rec)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Field(0).String())

	_, err = p.GetNext(rec)
	var bad *parser.BadDataFormatError
	require.True(t, errors.As(err, &bad))
	assert.EqualValues(t, 2, bad.RecordNumber)
	assert.True(t, errors.HasType(err, errors.ErrorTypeData))
}

func TestNumericTextPolicies(t *testing.T) {
	meta := &metadata.Metadata{Name: "qty", Type: metadata.RecordFixed,
		Fields: []metadata.FieldMetadata{{Name: "QTY", Type: metadata.TypeInteger, Size: 5}}}
	var buf bytes.Buffer
	writeTable(t, &buf, meta, []interface{}{int32(1)}, []interface{}{int32(7)})
	raw := buf.Bytes()
	copy(raw[66:71], " abc ")

	open := func(policy parser.DataPolicy) (*Parser, *record.Record) {
		p := NewParser(parser.Options{})
		require.NoError(t, p.Init(meta))
		p.SetExceptionHandler(parser.NewExceptionHandler(policy, zaptest.NewLogger(t)))
		require.NoError(t, p.SetDataSource(bytes.NewReader(raw), "qty.dbf"))
		return p, record.New(meta)
	}

	p, rec := open(parser.PolicyStrict)
	_, err := p.GetNext(rec)
	assert.True(t, errors.HasType(err, errors.ErrorTypeData))

	p, rec = open(parser.PolicyLenient)
	got, err := p.GetNext(rec)
	require.NoError(t, err)
	assert.Equal(t, int32(0), got.Field(0).Value())
	got, err = p.GetNext(rec)
	require.NoError(t, err)
	assert.Equal(t, int32(7), got.Field(0).Value())
}

func TestFormatterLimits(t *testing.T) {
	tests := map[string]metadata.FieldMetadata{
		"long name":   {Name: "ELEVENCHARS", Type: metadata.TypeString, Size: 5},
		"wide string": {Name: "S", Type: metadata.TypeString, Size: 255},
		"no size":     {Name: "S", Type: metadata.TypeString},
		"wide number": {Name: "N", Type: metadata.TypeLong, Size: 21},
	}
	for name, fm := range tests {
		t.Run(name, func(t *testing.T) {
			meta := &metadata.Metadata{Name: "m", Type: metadata.RecordDelimited, RecordDelimiter: "\n",
				Fields: []metadata.FieldMetadata{fm}}
			if fm.Size > 0 {
				meta.Type = metadata.RecordFixed
				meta.RecordDelimiter = ""
			}
			err := NewFormatter(parser.Options{}).Init(meta)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "%v", err)
		})
	}
}

func TestNumericOverflow(t *testing.T) {
	meta := &metadata.Metadata{Name: "n", Type: metadata.RecordFixed,
		Fields: []metadata.FieldMetadata{{Name: "N", Type: metadata.TypeInteger, Size: 3}}}
	f := NewFormatter(parser.Options{})
	require.NoError(t, f.Init(meta))
	require.NoError(t, f.SetDataTarget(&bytes.Buffer{}))
	rec := record.New(meta)
	require.NoError(t, rec.Field(0).SetValue(int32(12345)))
	_, err := f.Write(rec)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestCodePages(t *testing.T) {
	cp, err := CodePageForCharset("windows-1250")
	require.NoError(t, err)
	assert.Equal(t, byte(0xC8), cp)

	cp, err = CodePageForCharset("CP852")
	require.NoError(t, err)
	assert.Equal(t, byte(0x64), cp)

	cp, err = CodePageForCharset("")
	require.NoError(t, err)
	assert.Equal(t, byte(0), cp)

	_, err = CodePageForCharset("UTF-8")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	assert.Equal(t, "IBM866", CharsetForCodePage(0x65))
	assert.Equal(t, DefaultCharset, CharsetForCodePage(0x99))
}

func TestCharsetRoundTrip(t *testing.T) {
	meta := &metadata.Metadata{Name: "cz", Type: metadata.RecordFixed, Charset: "windows-1250",
		Fields: []metadata.FieldMetadata{{Name: "CITY", Type: metadata.TypeString, Size: 10}}}
	var buf bytes.Buffer
	writeTable(t, &buf, meta, []interface{}{"Žďár"})
	assert.Equal(t, byte(0xC8), buf.Bytes()[29])
	assert.Equal(t, byte(0x8E), buf.Bytes()[HeaderSize+DescriptorSize+2])

	p := NewParser(parser.Options{})
	require.NoError(t, p.Init(nil))
	require.NoError(t, p.SetDataSource(bytes.NewReader(buf.Bytes()), "cz.dbf"))
	assert.Equal(t, "windows-1250", p.Metadata().Charset)
	got, err := p.GetNext(record.New(p.Metadata()))
	require.NoError(t, err)
	assert.Equal(t, "Žďár", got.Field(0).String())
}

func TestParseBlockNumber(t *testing.T) {
	tests := []struct {
		raw    string
		n      uint32
		status BlockStatus
	}{
		{"         8", 8, BlockValid},
		{"0000000012", 12, BlockValid},
		{"          ", 0, BlockBlank},
		{"0000000000", 0, BlockBlank},
		{"\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00", 0, BlockBlank},
		{"   12ab   ", 0, BlockInvalid},
		{"-5", 0, BlockInvalid},
	}
	for _, tt := range tests {
		n, status := ParseBlockNumber([]byte(tt.raw))
		assert.Equal(t, tt.status, status, "%q", tt.raw)
		assert.Equal(t, tt.n, n, "%q", tt.raw)
	}
}

func memoMeta() *metadata.Metadata {
	return &metadata.Metadata{
		Name: "notes",
		Type: metadata.RecordFixed,
		Fields: []metadata.FieldMetadata{
			{Name: "ID", Type: metadata.TypeInteger, Size: 4},
			{Name: "NOTE", Type: metadata.TypeString, Size: 10, Format: MemoFormat, Nullable: true},
		},
	}
}

func TestMemoRoundTrip(t *testing.T) {
	long := string(bytes.Repeat([]byte("memo text "), 40))
	for _, kind := range []MemoKind{MemoFPT, MemoDBT} {
		ext := map[MemoKind]string{MemoFPT: ".fpt", MemoDBT: ".dbt"}[kind]
		t.Run(ext, func(t *testing.T) {
			table := tempFile(t, "notes.dbf")
			memoFile := tempFile(t, "notes"+ext)

			mw, err := NewMemoWriter(memoFile, kind, 0)
			require.NoError(t, err)
			f := NewFormatter(parser.Options{})
			require.NoError(t, f.Init(memoMeta()))
			f.SetMemoWriter(mw)
			require.NoError(t, f.SetDataTarget(table))
			rec := record.New(memoMeta())
			for i, note := range []interface{}{"short", nil, long} {
				require.NoError(t, rec.Field(0).SetValue(int32(i+1)))
				require.NoError(t, rec.Field(1).SetValue(note))
				_, err := f.Write(rec)
				require.NoError(t, err)
			}
			require.NoError(t, f.Close())
			assert.True(t, HasMemoFile(f.Header().Type))

			mr, err := NewMemoReader(memoFile, kind)
			require.NoError(t, err)
			_, err = table.Seek(0, 0)
			require.NoError(t, err)
			p := NewParser(parser.Options{})
			require.NoError(t, p.Init(memoMeta()))
			p.SetMemoReader(mr)
			require.NoError(t, p.SetDataSource(table, table.Name()))

			var notes []interface{}
			for {
				got, err := p.GetNext(rec)
				require.NoError(t, err)
				if got == nil {
					break
				}
				notes = append(notes, got.Field(1).Value())
			}
			assert.Equal(t, []interface{}{"short", nil, long}, notes)
		})
	}
}

func TestMemoWithoutReader(t *testing.T) {
	table := tempFile(t, "notes.dbf")
	memoFile := tempFile(t, "notes.fpt")
	mw, err := NewMemoWriter(memoFile, MemoFPT, 0)
	require.NoError(t, err)

	f := NewFormatter(parser.Options{})
	require.NoError(t, f.Init(memoMeta()))
	require.NoError(t, f.SetDataTarget(table))
	rec := record.New(memoMeta())
	require.NoError(t, rec.Field(0).SetValue(int32(1)))
	require.NoError(t, rec.Field(1).SetValue("text"))
	_, err = f.Write(rec)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	f.SetMemoWriter(mw)
	_, err = f.Write(rec)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = table.Seek(0, 0)
	require.NoError(t, err)
	p := NewParser(parser.Options{})
	require.NoError(t, p.Init(memoMeta()))
	require.NoError(t, p.SetDataSource(table, "notes.dbf"))
	_, err = p.GetNext(record.New(memoMeta()))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestDBase3TerminatedMemo(t *testing.T) {
	raw := make([]byte, 1024)
	copy(raw[512:], "old style memo\x1a\x1a")
	mr, err := NewMemoReader(bytes.NewReader(raw), MemoDBT)
	require.NoError(t, err)
	assert.Equal(t, 512, mr.BlockSize())
	data, err := mr.ReadBlock(1)
	require.NoError(t, err)
	assert.Equal(t, "old style memo", string(data))
}

func TestMemoPath(t *testing.T) {
	assert.Equal(t, "data/notes.fpt", MemoPath("data/notes.dbf", TypeFoxProMemo))
	assert.Equal(t, "NOTES.DBT", MemoPath("NOTES.DBF", TypeDBase4Memo))
	kind, ok := MemoKindForPath("x/NOTES.FPT")
	assert.True(t, ok)
	assert.Equal(t, MemoFPT, kind)
	_, ok = MemoKindForPath("notes.txt")
	assert.False(t, ok)
}
