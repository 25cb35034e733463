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

package deliverables

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/depotgate/depotgate/depot"
)

// indicates a deliverable contract that failed validation
type InvalidSpecError struct {
	Reason string
}

func (e InvalidSpecError) Error() string {
	return fmt.Sprintf("invalid deliverable spec: %s", e.Reason)
}

// indicates an attempt to mark a requirement the deliverable never declared
type UnknownRequirementError struct {
	DeliverableId uuid.UUID
	Name          string
}

func (e UnknownRequirementError) Error() string {
	return fmt.Sprintf("deliverable %s declares no requirement named %q",
		e.DeliverableId, e.Name)
}

// indicates an operation that needs a declared deliverable but found a
// terminal one
type NotDeclaredError struct {
	DeliverableId uuid.UUID
	Status        depot.DeliverableStatus
}

func (e NotDeclaredError) Error() string {
	return fmt.Sprintf("deliverable %s is %s, not declared", e.DeliverableId, e.Status)
}
