// Package formatter renders API payloads in the representation a client asks
// for through its Accept header.
//
// Every payload has two shapes: a nested document (JSON and YAML) and a flat
// table (CSV, plain text and HTML). Negotiate picks the media type, Render
// produces the bytes.
package formatter
