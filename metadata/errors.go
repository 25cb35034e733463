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

package metadata

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/depotgate/depotgate/depot"
)

// indicates an attempt to register a pointer whose id already exists within
// its tenant
type PointerExistsError struct {
	ArtifactId uuid.UUID
}

func (e PointerExistsError) Error() string {
	return fmt.Sprintf("an artifact with id %s is already registered", e.ArtifactId)
}

// indicates that a requested record does not exist (or, for pointers, is no
// longer live)
type NotFoundError struct {
	Kind string // "artifact", "deliverable", or "manifest"
	Id   uuid.UUID
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("no %s found with id %s", e.Kind, e.Id)
}

// indicates a status transition that lost its compare-and-set: the
// deliverable was no longer in the expected status
type CASFailedError struct {
	DeliverableId uuid.UUID
	Status        depot.DeliverableStatus // status actually found
}

func (e CASFailedError) Error() string {
	return fmt.Sprintf("deliverable %s is %s, not eligible for transition",
		e.DeliverableId, e.Status)
}
