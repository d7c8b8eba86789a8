// Package server implements the HTTP API of the contract comparison
// backend: uploads of .doc/.docx files, streaming them back, and logging
// and browsing comparison records. It wires the routes to a storage.Backend
// and a db.RecordRepository and provides the lifecycle helpers used by the
// binary and by tests.
package server
