// Package quasar is a graph based ETL engine.
//
// A graph is a set of components (nodes) connected by edges. Every edge
// carries records of one declared layout from an output port to an input
// port. Nodes run concurrently, one goroutine each, within phases that
// execute one after another. Every record travelling through a graph is a
// token whose lineage (which node read it, which wrote it, which tokens it
// was derived from) can be recorded to a sink.
//
// # Quick Start
//
// Define a graph in YAML:
//
//	name: orders
//	metadata:
//	  order:
//	    type: delimited
//	    fields:
//	      - {name: id, type: long, size: 8, delimiter: ","}
//	      - {name: customer, type: string, size: 20, delimiter: "\n"}
//	nodes:
//	  - {id: READ, type: reader, properties: {file_url: orders.csv.gz}}
//	  - {id: WRITE, type: writer, properties: {file_url: "s3://bucket/orders.dbf"}}
//	edges:
//	  - {from: "READ:0", to: "WRITE:0", metadata: order}
//
// and run it:
//
//	quasar run orders.yaml --log-format console
//
// # Key Packages
//
//	pkg/graph       - Nodes, ports, edges, phases and the watchdog that runs them
//	pkg/token       - Token identity, lineage store, tracking policies and sinks
//	pkg/components  - Reader, writer, reformat, copy, group and pace nodes
//	pkg/parser      - Fixed length and delimited parsers and formatters
//	pkg/dbf         - dBase/FoxPro tables and their memo files
//	pkg/seqfile     - Hadoop SequenceFile reader and writer
//	pkg/fs          - Reference counted local, S3 and GCS file systems
//	pkg/plugin      - Plugin descriptors contributing component factories
//	pkg/config      - Graph definitions and runtime settings
//	pkg/metadata    - Record and field layouts
//	pkg/record      - Typed records and fields
//	pkg/compression - Stream compression by name or file extension
//	pkg/errors      - Structured error classes
//	pkg/logger      - Structured logging
//	pkg/metrics     - Prometheus metrics
//
// # Configuration
//
// Graph files support ${VAR_NAME} and ${VAR_NAME:-default} substitution.
// Runtime settings are read from command line flags, QUASAR_* environment
// variables and an optional file, for example QUASAR_LOG_LEVEL=debug or
// QUASAR_ENGINE_EDGE_CAPACITY=4096.
package quasar
