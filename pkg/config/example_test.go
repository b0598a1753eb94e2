package config_test

import (
	"fmt"
	"log"

	"github.com/ajitpratap0/quasar/pkg/config"
)

// ExampleParseGraph shows the shape of a graph definition
func ExampleParseGraph() {
	cfg, err := config.ParseGraph([]byte(`
name: copy
metadata:
  line:
    fields:
      - {name: text, delimiter: "\n"}
nodes:
  - {id: READ, type: reader, properties: {file_url: in.txt, max_rows: 10}}
  - {id: WRITE, type: writer, phase: 1, properties: {file_url: out.txt}}
edges:
  - {from: READ, to: WRITE, metadata: line}
`))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(cfg.Name, len(cfg.Nodes), cfg.Metadata["line"].Type)
	fmt.Println(cfg.Nodes[0].Props()["max_rows"])

	// Output:
	// copy 2 delimited
	// 10
}
