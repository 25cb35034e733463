// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package storage

import (
	"fmt"
)

// indicates that no backend is registered for a location scheme
type UnknownBackendError struct {
	Scheme string
}

func (e UnknownBackendError) Error() string {
	return fmt.Sprintf("No storage backend registered for scheme %q", e.Scheme)
}

// indicates that an artifact exceeded the configured maximum size
// (possibly detected mid-stream, in which case the partial payload has
// already been removed)
type ArtifactTooLargeError struct {
	SizeBytes int64 // bytes seen before the limit tripped
	Limit     int64
}

func (e ArtifactTooLargeError) Error() string {
	return fmt.Sprintf("Artifact too large: %d bytes exceeds the %d byte limit",
		e.SizeBytes, e.Limit)
}

// indicates that a pointer's bytes cannot be retrieved from the backend
type ArtifactMissingError struct {
	Location string
}

func (e ArtifactMissingError) Error() string {
	return fmt.Sprintf("No artifact bytes at %q", e.Location)
}

// indicates that byte persistence failed for reasons other than size or
// path safety
type FailureError struct {
	Op  string
	Err error
}

func (e FailureError) Error() string {
	return fmt.Sprintf("Storage %s failed: %s", e.Op, e.Err.Error())
}

func (e FailureError) Unwrap() error {
	return e.Err
}
