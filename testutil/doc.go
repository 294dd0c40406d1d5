// Package testutil provides fixtures shared by package tests.
//
// FakeTransport stands in for a client connection, StubProvider for a data
// source with scripted frames and failures, and WriteArchive lays out an
// on-disk log the archive provider can serve.
package testutil
