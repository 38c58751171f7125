// Package types holds the FlatBuffers tables persisted by yieldd.
package types

//go:generate flatc --go -o .. records.fbs
