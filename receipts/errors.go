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

package receipts

import (
	"fmt"

	"github.com/google/uuid"
)

// indicates an attempt to append a receipt whose id was already recorded for
// its tenant
type DuplicateReceiptError struct {
	ReceiptId uuid.UUID
}

func (e DuplicateReceiptError) Error() string {
	return fmt.Sprintf("a receipt with id %s was already recorded", e.ReceiptId)
}

// indicates that no receipt exists with the requested id
type NotFoundError struct {
	ReceiptId uuid.UUID
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("no receipt found with id %s", e.ReceiptId)
}

// reported by operations whose primary effect succeeded but whose receipt
// could not be recorded; the effect stands, only the trace is incomplete
type WriteFailedError struct {
	Err error
}

func (e WriteFailedError) Error() string {
	return fmt.Sprintf("the operation succeeded but its receipt was not recorded: %s",
		e.Err.Error())
}

func (e WriteFailedError) Unwrap() error {
	return e.Err
}
