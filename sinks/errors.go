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

package sinks

import (
	"fmt"
)

// indicates that a destination scheme has no registered sink
type UnknownSinkError struct {
	Scheme string
}

func (e UnknownSinkError) Error() string {
	return fmt.Sprintf("No sink registered for scheme %q", e.Scheme)
}

// indicates that the external sink rejected the shipment or the transport
// failed; DepotGate state is unchanged and the caller may retry
type TransportFailureError struct {
	Destination string
	Err         error
}

func (e TransportFailureError) Error() string {
	return fmt.Sprintf("Sink transport to %q failed: %s", e.Destination, e.Err.Error())
}

func (e TransportFailureError) Unwrap() error {
	return e.Err
}
