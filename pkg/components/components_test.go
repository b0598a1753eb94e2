package components

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/quasar/pkg/compression"
	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/graph"
	"github.com/ajitpratap0/quasar/pkg/metadata"
	"github.com/ajitpratap0/quasar/pkg/plugin"
	"github.com/ajitpratap0/quasar/pkg/pool"
	"github.com/ajitpratap0/quasar/pkg/testutil"
	"github.com/ajitpratap0/quasar/pkg/token"
)

func people() *metadata.Metadata {
	return &metadata.Metadata{
		Name: "people",
		Type: metadata.RecordDelimited,
		Fields: []metadata.FieldMetadata{
			{Name: "name", Type: metadata.TypeString, Size: 10, Delimiter: ","},
			{Name: "qty", Type: metadata.TypeLong, Size: 6, Delimiter: "\n"},
		},
	}
}

func delimited(name string, fields ...metadata.FieldMetadata) *metadata.Metadata {
	for i := range fields {
		fields[i].Delimiter = ","
	}
	fields[len(fields)-1].Delimiter = "\n"
	return &metadata.Metadata{Name: name, Type: metadata.RecordDelimited, Fields: fields}
}

func TestResolveFormat(t *testing.T) {
	fixed := &metadata.Metadata{Type: metadata.RecordFixed}
	tests := []struct {
		props graph.Properties
		meta  *metadata.Metadata
		file  string
		want  string
	}{
		{nil, people(), "in.csv", FormatDelimited},
		{nil, fixed, "in.txt", FormatFixed},
		{nil, people(), "/data/orders.DBF", FormatDBF},
		{nil, people(), "s3://bucket/orders.dbf.gz", FormatDBF},
		{nil, people(), "part-0000.seq", FormatSeqFile},
		{graph.Properties{"format": "Fixed"}, people(), "in.dbf", FormatFixed},
	}
	for _, tt := range tests {
		got, err := resolveFormat(tt.props, tt.meta, tt.file)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.file)
	}

	_, err := resolveFormat(graph.Properties{"format": "xml"}, people(), "in.xml")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestCompressionFor(t *testing.T) {
	alg, err := compressionFor(graph.Properties{}, "out.csv.gz")
	require.NoError(t, err)
	assert.Equal(t, compression.Gzip, alg)

	alg, err = compressionFor(graph.Properties{"compression": "none"}, "out.csv.gz")
	require.NoError(t, err)
	assert.Equal(t, compression.None, alg)

	alg, err = compressionFor(graph.Properties{"compression": "zstd"}, "out.csv")
	require.NoError(t, err)
	assert.Equal(t, compression.Zstd, alg)
}

func TestFactoriesRejectBadProperties(t *testing.T) {
	reg := graph.NewRegistry()
	require.NoError(t, Register(reg))
	assert.Equal(t, []string{"copy", "group", "pace", "reader", "reformat", "writer"}, reg.Types())

	for _, tc := range []struct {
		typ   string
		props graph.Properties
	}{
		{TypeReader, graph.Properties{}},
		{TypeReader, graph.Properties{"file_url": "a.csv", "data_policy": "sloppy"}},
		{TypeReader, graph.Properties{"file_url": "a.csv", "skip_rows": "-1"}},
		{TypeWriter, graph.Properties{}},
		{TypeReformat, graph.Properties{"transform": "nope"}},
		{TypeReformat, graph.Properties{"transform": "split"}},
		{TypeGroup, graph.Properties{}},
		{TypePace, graph.Properties{"rate": "0"}},
	} {
		_, err := reg.Create(tc.typ, "n", tc.props)
		assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "%s %v", tc.typ, tc.props)
	}
}

func TestPluginContributesComponents(t *testing.T) {
	_, ok := plugin.Default.Lookup(PluginID)
	assert.True(t, ok)

	plugins := plugin.NewRegistry(zaptest.NewLogger(t))
	require.NoError(t, plugins.Register(Descriptor()))
	reg := graph.NewRegistry()
	require.NoError(t, plugins.ActivateAll(reg))
	assert.Len(t, reg.Types(), 6)
}

func TestTransformRegistry(t *testing.T) {
	assert.Equal(t, []string{"filter", "map", "split", "upper"}, Transforms.Names())
	assert.Error(t, Transforms.Register("map", newMapTransform))
}

// PipelineSuite runs whole graphs against files in a scratch directory
type PipelineSuite struct {
	testutil.IntegrationTestSuite
	registry *graph.Registry
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func (s *PipelineSuite) SetupSuite() {
	s.IntegrationTestSuite.SetupSuite()
	s.registry = graph.NewRegistry()
	s.Require().NoError(Register(s.registry))
}

func (s *PipelineSuite) add(g *graph.Graph, typ, id string, phase int, props graph.Properties) {
	n, err := s.registry.Create(typ, id, props)
	s.Require().NoError(err)
	s.Require().NoError(g.AddNode(n, phase))
}

func (s *PipelineSuite) connect(g *graph.Graph, from, to string, meta *metadata.Metadata) *graph.Edge {
	f, err := graph.ParsePortRef(from)
	s.Require().NoError(err)
	tt, err := graph.ParsePortRef(to)
	s.Require().NoError(err)
	e, err := g.Connect(f, tt, meta, 2)
	s.Require().NoError(err)
	return e
}

func (s *PipelineSuite) run(g *graph.Graph, lineage *token.Lineage) *graph.RunResult {
	if lineage == nil {
		lineage = token.NewLineage()
	}
	res := graph.NewWatchdog(g, graph.WatchdogOptions{Logger: s.Logger(), Lineage: lineage}).Run(s.Context())
	s.Require().Equal(graph.ResultFinishedOK, res.Result.Code, "%v", res.Result.Err)
	s.Equal(0, lineage.Live(), "every token is freed")
	return res
}

func (s *PipelineSuite) read(name string) string {
	return string(testutil.ReadFile(s.T(), s.Path(name)))
}

func (s *PipelineSuite) TestDelimitedToDBFAndBack() {
	in := s.CreateTempFile("dbf/people.csv", []byte("anna,3\nbob,5\n"))
	table := s.Path("dbf/people.dbf")
	out := s.Path("dbf/people.out.csv")

	g := graph.New("dbf")
	s.add(g, TypeReader, "READ", 0, graph.Properties{"file_url": in})
	s.add(g, TypeReformat, "UPPER", 0, graph.Properties{"transform": "upper"})
	s.add(g, TypeWriter, "TABLE", 0, graph.Properties{"file_url": table})
	s.add(g, TypeReader, "READ_TABLE", 1, graph.Properties{"file_url": table})
	s.add(g, TypeWriter, "WRITE", 1, graph.Properties{"file_url": out})
	s.connect(g, "READ", "UPPER", people())
	s.connect(g, "UPPER", "TABLE", people())
	s.connect(g, "READ_TABLE", "WRITE", people())

	s.run(g, nil)
	s.Equal("ANNA,3\nBOB,5\n", s.read("dbf/people.out.csv"))
	s.Len(testutil.ReadFile(s.T(), table), 32+2*32+1+2*(1+10+6)+1)
}

func (s *PipelineSuite) TestControlledRejectsGoToPort1() {
	in := s.CreateTempFile("rejects/in.csv", []byte("a,1\nb,oops\nc,3\n"))
	amounts := delimited("amounts",
		metadata.FieldMetadata{Name: "name"},
		metadata.FieldMetadata{Name: "amount", Type: metadata.TypeInteger})
	rejects := delimited("rejects",
		metadata.FieldMetadata{Name: RejectRecordNumberField, Type: metadata.TypeLong},
		metadata.FieldMetadata{Name: "name"},
		metadata.FieldMetadata{Name: RejectErrorField})

	g := graph.New("rejects")
	s.add(g, TypeReader, "READ", 0, graph.Properties{"file_url": in, "data_policy": "controlled"})
	s.add(g, TypeWriter, "GOOD", 0, graph.Properties{"file_url": s.Path("rejects/good.csv")})
	s.add(g, TypeWriter, "BAD", 0, graph.Properties{"file_url": s.Path("rejects/bad.csv")})
	s.connect(g, "READ:0", "GOOD", amounts)
	s.connect(g, "READ:1", "BAD", rejects)

	s.run(g, nil)
	s.Equal("a,1\nc,3\n", s.read("rejects/good.csv"))
	s.True(strings.HasPrefix(s.read("rejects/bad.csv"), "2,b,"), s.read("rejects/bad.csv"))
}

func (s *PipelineSuite) TestStrictPolicyFailsTheBranch() {
	in := s.CreateTempFile("strict/in.csv", []byte("a,1\nb,oops\n"))
	amounts := delimited("amounts",
		metadata.FieldMetadata{Name: "name"},
		metadata.FieldMetadata{Name: "amount", Type: metadata.TypeInteger})

	g := graph.New("strict")
	s.add(g, TypeReader, "READ", 0, graph.Properties{"file_url": in})
	s.add(g, TypeWriter, "WRITE", 0, graph.Properties{"file_url": s.Path("strict/out.csv")})
	s.connect(g, "READ", "WRITE", amounts)

	buffers := pool.Buffers.InUse()
	res := graph.NewWatchdog(g, graph.WatchdogOptions{Logger: s.Logger()}).Run(s.Context())
	s.Equal(graph.ResultError, res.Nodes["READ"].Code)
	s.True(errors.HasType(res.Nodes["READ"].Err, errors.ErrorTypeData))
	s.Equal(buffers, pool.Buffers.InUse(), "failed reader returns its input buffer")
}

func (s *PipelineSuite) TestCopyFansOut() {
	in := s.CreateTempFile("copy/in.csv", []byte("x,1\ny,2\nz,3\n"))

	g := graph.New("copy")
	s.add(g, TypeReader, "READ", 0, graph.Properties{"file_url": in})
	s.add(g, TypeCopy, "COPY", 0, nil)
	s.add(g, TypeWriter, "A", 0, graph.Properties{"file_url": s.Path("copy/a.csv")})
	s.add(g, TypeWriter, "B", 0, graph.Properties{"file_url": s.Path("copy/b.csv.gz")})
	s.connect(g, "READ", "COPY", people())
	s.connect(g, "COPY:0", "A", people())
	s.connect(g, "COPY:1", "B", people())

	lineage := token.NewLineage(token.WithHistory())
	s.run(g, lineage)
	s.Equal("x,1\ny,2\nz,3\n", s.read("copy/a.csv"))
	s.NotEqual("x,1\ny,2\nz,3\n", s.read("copy/b.csv.gz"), "compressed by extension")

	// read the compressed copy back
	g = graph.New("copy-back")
	s.add(g, TypeReader, "READ", 0, graph.Properties{"file_url": s.Path("copy/b.csv.gz")})
	s.add(g, TypeWriter, "WRITE", 0, graph.Properties{"file_url": s.Path("copy/b.csv")})
	s.connect(g, "READ", "WRITE", people())
	s.run(g, nil)
	s.Equal("x,1\ny,2\nz,3\n", s.read("copy/b.csv"))
}

func (s *PipelineSuite) TestGroupAdjacentKeys() {
	in := s.CreateTempFile("group/in.csv", []byte("k1,1\nk1,2\nk2,3\nk1,4\n"))
	rows := delimited("rows",
		metadata.FieldMetadata{Name: "key"},
		metadata.FieldMetadata{Name: "v", Type: metadata.TypeLong})
	groups := delimited("groups",
		metadata.FieldMetadata{Name: "key"},
		metadata.FieldMetadata{Name: "v", Type: metadata.TypeLong},
		metadata.FieldMetadata{Name: "count", Type: metadata.TypeLong})

	g := graph.New("group")
	s.add(g, TypeReader, "READ", 0, graph.Properties{"file_url": in})
	s.add(g, TypeGroup, "GROUP", 0, graph.Properties{"key": "key"})
	s.add(g, TypeWriter, "WRITE", 0, graph.Properties{"file_url": s.Path("group/out.csv")})
	s.connect(g, "READ", "GROUP", rows)
	s.connect(g, "GROUP", "WRITE", groups)

	s.run(g, nil)
	s.Equal("k1,2,2\nk2,3,1\nk1,4,1\n", s.read("group/out.csv"))
}

func (s *PipelineSuite) TestSplitLinksExtraOutputs() {
	in := s.CreateTempFile("split/in.csv", []byte("a,x;y;z\nb,w\n"))
	tags := delimited("tags",
		metadata.FieldMetadata{Name: "id"},
		metadata.FieldMetadata{Name: "tag"})

	g := graph.New("split")
	s.add(g, TypeReader, "READ", 0, graph.Properties{"file_url": in})
	s.add(g, TypeReformat, "SPLIT", 0, graph.Properties{"transform": "split", "split_field": "tag", "separator": ";"})
	s.add(g, TypeWriter, "WRITE", 0, graph.Properties{"file_url": s.Path("split/out.csv")})
	s.connect(g, "READ", "SPLIT", tags)
	s.connect(g, "SPLIT", "WRITE", tags)

	var events bytes.Buffer
	lineage := token.NewLineage(token.WithSink(token.NewJSONSink(&events)))
	s.run(g, lineage)
	s.Require().NoError(lineage.Close())

	s.Equal("a,x\na,y\na,z\nb,w\n", s.read("split/out.csv"))
	s.Equal(2, strings.Count(events.String(), `"event":"unify"`))
	s.Equal(2, strings.Count(events.String(), `"event":"link"`))
}

func (s *PipelineSuite) TestFilterRoutesToSecondPort() {
	in := s.CreateTempFile("filter/in.csv", []byte("eu,1\nus,2\neu,3\n"))
	rows := delimited("rows",
		metadata.FieldMetadata{Name: "region"},
		metadata.FieldMetadata{Name: "v", Type: metadata.TypeLong})

	g := graph.New("filter")
	s.add(g, TypeReader, "READ", 0, graph.Properties{"file_url": in})
	s.add(g, TypeReformat, "FILTER", 0, graph.Properties{"transform": "filter", "filter_field": "region", "filter_value": "eu"})
	s.add(g, TypePace, "PACE", 0, graph.Properties{"rate": "1000", "burst": "10"})
	s.add(g, TypeWriter, "EU", 0, graph.Properties{"file_url": s.Path("filter/eu.csv")})
	s.add(g, TypeWriter, "OTHER", 0, graph.Properties{"file_url": s.Path("filter/other.csv")})
	s.connect(g, "READ", "FILTER", rows)
	s.connect(g, "FILTER:0", "PACE", rows)
	s.connect(g, "PACE", "EU", rows)
	s.connect(g, "FILTER:1", "OTHER", rows)

	s.run(g, nil)
	s.Equal("eu,1\neu,3\n", s.read("filter/eu.csv"))
	s.Equal("us,2\n", s.read("filter/other.csv"))
}

func (s *PipelineSuite) TestSkipAndMaxRows() {
	in := s.CreateTempFile("limits/in.csv", []byte("a,1\nb,2\nc,3\nd,4\n"))

	g := graph.New("limits")
	s.add(g, TypeReader, "READ", 0, graph.Properties{"file_url": in, "skip_rows": "1", "max_rows": "2"})
	s.add(g, TypeWriter, "WRITE", 0, graph.Properties{"file_url": s.Path("limits/out.csv"), "header": "true"})
	s.connect(g, "READ", "WRITE", people())

	s.run(g, nil)
	s.Equal("name,qty\nb,2\nc,3\n", s.read("limits/out.csv"))
}

func (s *PipelineSuite) TestMissingMetadataIsConfigError() {
	g := graph.New("nometa")
	s.add(g, TypeReader, "READ", 0, graph.Properties{"file_url": s.Path("none.csv")})
	s.add(g, TypeWriter, "WRITE", 0, graph.Properties{"file_url": s.Path("none.out")})
	s.connect(g, "READ", "WRITE", nil)

	res := graph.NewWatchdog(g, graph.WatchdogOptions{Logger: s.Logger()}).Run(s.Context())
	s.Equal(graph.ResultError, res.Result.Code)
	s.True(errors.HasType(res.Result.Err, errors.ErrorTypeConfig))
}
