// Package mocks contains mocks used by the speedprobe command tests.
package mocks

import "errors"

// ErrMocked is the error returned by the failing mocks.
var ErrMocked = errors.New("mocked error")

// SavingWriter is a writer that saves what it's passed.
type SavingWriter struct {
	Data [][]byte
}

// Write saves a copy of data.
func (sw *SavingWriter) Write(data []byte) (int, error) {
	sw.Data = append(sw.Data, append([]byte(nil), data...))
	return len(data), nil
}

// FailingWriter is a writer that always fails.
type FailingWriter struct{}

// Write always returns ErrMocked.
func (FailingWriter) Write([]byte) (int, error) {
	return 0, ErrMocked
}
