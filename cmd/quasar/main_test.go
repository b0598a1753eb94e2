package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/quasar/pkg/json"
	"github.com/ajitpratap0/quasar/pkg/testutil"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(testutil.TestContext(t))
	return out.String(), err
}

const peopleGraph = `
name: people
metadata:
  people:
    type: delimited
    fields:
      - {name: name, type: string, size: 10, delimiter: ","}
      - {name: qty, type: long, size: 6, delimiter: "\n"}
nodes:
  - id: READ
    type: reader
    properties: {file_url: "${QUASAR_TEST_DIR}/people.csv"}
  - id: TABLE
    type: writer
    properties: {file_url: "${QUASAR_TEST_DIR}/people.dbf"}
edges:
  - {from: "READ:0", to: "TABLE:0", metadata: people}
`

func writePeopleTable(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("QUASAR_TEST_DIR", dir)
	testutil.WriteFile(t, dir, "people.csv", []byte("anna,3\nbob,5\n"))
	graphFile := testutil.WriteFile(t, dir, "people.yaml", []byte(peopleGraph))

	out, err := execute(t, "run", graphFile, "--log-level", "error")
	require.NoError(t, err, out)
	assert.Contains(t, out, "graph people run ")
	assert.Contains(t, out, "READ")
	assert.Contains(t, out, "finished_ok")
	return filepath.Join(dir, "people.dbf")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Quasar v"+version+"\n"), out)
}

func TestPluginsListsComponents(t *testing.T) {
	out, err := execute(t, "plugins")
	require.NoError(t, err)
	assert.Contains(t, out, "quasar.components 1.0.0")
}

func TestRunAnalyzeAndDump(t *testing.T) {
	table := writePeopleTable(t)

	out, err := execute(t, "analyze-dbf", table)
	require.NoError(t, err)
	assert.Contains(t, out, "rows:        2\n")

	out, err = execute(t, "analyze-dbf", table, "--json")
	require.NoError(t, err)
	var report struct {
		Rows   int `json:"rows"`
		Fields []struct {
			Name   string `json:"name"`
			Type   string `json:"type"`
			Length int    `json:"length"`
		} `json:"fields"`
		Metadata struct {
			Name string `json:"name"`
		} `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 2, report.Rows)
	require.Len(t, report.Fields, 2)
	assert.Equal(t, "C", report.Fields[0].Type)
	assert.Equal(t, 10, report.Fields[0].Length)
	assert.Equal(t, "N", report.Fields[1].Type)
	assert.Equal(t, "people", report.Metadata.Name)

	out, err = execute(t, "dump-dbf", table)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	var row map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &row))
	assert.Equal(t, "bob", strings.TrimSpace(row["NAME"].(string)))
	assert.EqualValues(t, 5, row["QTY"])

	out, err = execute(t, "dump-dbf", table, "--array", "--limit", "1")
	require.NoError(t, err)
	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	assert.Len(t, rows, 1)
}

func TestRunFailsOnBadGraph(t *testing.T) {
	dir := t.TempDir()
	graphFile := testutil.WriteFile(t, dir, "bad.yaml", []byte("name: bad\nnodes:\n  - {id: X, type: nope}\n"))
	_, err := execute(t, "run", graphFile, "--log-level", "error")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestRunRejectsInvalidRuntimeConfig(t *testing.T) {
	dir := t.TempDir()
	graphFile := testutil.WriteFile(t, dir, "g.yaml", []byte("name: g\nnodes:\n  - {id: X, type: copy}\n"))
	_, err := execute(t, "run", graphFile, "--edge-capacity", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "edge capacity")
}
