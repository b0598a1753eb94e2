// Package config loads graph definitions and runtime settings.
//
// A graph definition is a YAML document naming record metadata, component
// instances, the edges between their ports and the token tracking sink.
// ${VAR_NAME} and ${VAR_NAME:-default} are replaced from the environment
// before parsing:
//
//	name: orders
//	metadata:
//	  order:
//	    type: delimited
//	    fields:
//	      - {name: id, type: long, delimiter: ","}
//	      - {name: customer, type: string, delimiter: "\n"}
//	nodes:
//	  - id: READ
//	    type: reader
//	    properties: {file_url: "${INPUT:-orders.csv}", data_policy: controlled}
//	  - id: WRITE
//	    type: writer
//	    properties: {file_url: "s3://bucket/orders.dbf"}
//	edges:
//	  - {from: "READ:0", to: "WRITE:0", metadata: order}
//	tracking: {enabled: true, sink: log}
//
// Build turns a definition into a graph.Graph using a component registry.
//
// Runtime settings (logging, metrics, tracing, edge capacity, memory
// sampling) come from viper: command line flags, QUASAR_* environment
// variables and an optional file, validated by RuntimeConfig.Validate.
package config
