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

package shipping

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/depotgate/depotgate/depot"
)

// indicates a ship request addressed to a task the deliverable doesn't
// belong to
type WrongTaskError struct {
	DeliverableId uuid.UUID
	RootTaskId    string
}

func (e WrongTaskError) Error() string {
	return fmt.Sprintf("deliverable %s does not belong to task %s",
		e.DeliverableId, e.RootTaskId)
}

// indicates a ship request for a deliverable that already shipped
type AlreadyShippedError struct {
	DeliverableId uuid.UUID
}

func (e AlreadyShippedError) Error() string {
	return fmt.Sprintf("deliverable %s has already shipped", e.DeliverableId)
}

// indicates a ship request for a deliverable that was rejected
type AlreadyRejectedError struct {
	DeliverableId uuid.UUID
}

func (e AlreadyRejectedError) Error() string {
	return fmt.Sprintf("deliverable %s was rejected", e.DeliverableId)
}

// indicates a ship request whose contract is not yet satisfied; the
// deliverable transitions to rejected and the report says what was missing
type ClosureNotSatisfiedError struct {
	DeliverableId uuid.UUID
	Report        depot.ClosureReport
}

func (e ClosureNotSatisfiedError) Error() string {
	return fmt.Sprintf(
		"deliverable %s is not closed (%d missing ids, %d missing roles, %d unmet requirements)",
		e.DeliverableId, len(e.Report.MissingIds), len(e.Report.MissingRoles),
		len(e.Report.MissingRequirements))
}

// indicates a satisfied contract that matched no live artifacts; shipping an
// empty bundle is refused and the deliverable stays declared
type NoArtifactsError struct {
	DeliverableId uuid.UUID
}

func (e NoArtifactsError) Error() string {
	return fmt.Sprintf("deliverable %s matched no live artifacts", e.DeliverableId)
}

// indicates that a concurrent ship of the same deliverable won the status
// transition after this shipment's bytes were already sent
type RaceLostError struct {
	DeliverableId uuid.UUID
}

func (e RaceLostError) Error() string {
	return fmt.Sprintf("a concurrent shipment of deliverable %s won", e.DeliverableId)
}

// indicates that bytes reached the destination but the shipment could not be
// committed; the deliverable's status is unchanged
type ManifestPersistFailedError struct {
	DeliverableId uuid.UUID
	Err           error
}

func (e ManifestPersistFailedError) Error() string {
	return fmt.Sprintf("shipment of deliverable %s could not be committed: %s",
		e.DeliverableId, e.Err.Error())
}

func (e ManifestPersistFailedError) Unwrap() error {
	return e.Err
}

// indicates a purge request that failed validation
type InvalidPurgeError struct {
	Reason string
}

func (e InvalidPurgeError) Error() string {
	return fmt.Sprintf("invalid purge request: %s", e.Reason)
}
