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

// This package defines the DepotGate domain model: artifact pointers,
// deliverable contracts, shipment manifests, and receipts. The types here are
// shared by every other package and carry no behavior beyond validation of
// their closed vocabularies.
package depot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// the role an artifact plays within its task (closed vocabulary)
type ArtifactRole string

const (
	RoleFinalOutput ArtifactRole = "final_output"
	RoleSupporting  ArtifactRole = "supporting"
	RolePlan        ArtifactRole = "plan"
	RoleLog         ArtifactRole = "log"
	RoleOther       ArtifactRole = "other"
)

// parses a string as an artifact role, returning an error for anything
// outside the closed vocabulary (empty selects the default "supporting")
func ParseArtifactRole(s string) (ArtifactRole, error) {
	switch ArtifactRole(s) {
	case RoleFinalOutput, RoleSupporting, RolePlan, RoleLog, RoleOther:
		return ArtifactRole(s), nil
	case "":
		return RoleSupporting, nil
	}
	return "", fmt.Errorf("invalid artifact role: %s", s)
}

// the metadata-only handle that serves as the public identity of a stored
// artifact; the bytes themselves live behind Location in a storage backend
type ArtifactPointer struct {
	// UUID uniquely identifying the artifact within its tenant
	ArtifactId uuid.UUID `json:"artifact_id"`
	// namespace coordinates for the artifact
	TenantId   string `json:"tenant_id"`
	RootTaskId string `json:"root_task_id"`
	// storage-agnostic URI whose scheme selects the backend
	Location string `json:"location"`
	// actual stored length in bytes
	SizeBytes int64 `json:"size_bytes"`
	// MIME type declared by the producer (opaque to DepotGate)
	MimeType string `json:"mime_type"`
	// hex SHA-256 of the stored bytes, computed at ingest
	ContentHash string `json:"content_hash"`
	// role classification from the closed vocabulary
	ArtifactRole ArtifactRole `json:"artifact_role"`
	// optional causal back-link to the receipt that produced this artifact
	ProducedByReceiptId string `json:"produced_by_receipt_id,omitempty"`
	// UTC ingest timestamp
	CreatedAt time.Time `json:"created_at"`
}

// the contract declaring what must be present before a bundle may ship
type DeliverableSpec struct {
	// specific artifact ids that must be live (may be empty)
	ArtifactIds []uuid.UUID `json:"artifact_ids"`
	// roles that must each be carried by at least one live artifact
	ArtifactRoles []ArtifactRole `json:"artifact_roles"`
	// free-form named flags the caller marks satisfied out-of-band
	Requirements []string `json:"requirements"`
	// opaque destination URI whose scheme selects the outbound sink
	ShippingDestination string `json:"shipping_destination"`
}

// deliverable status values; transitions are monotonic
// (declared -> shipped or declared -> rejected, both terminal)
type DeliverableStatus string

const (
	StatusDeclared DeliverableStatus = "declared"
	StatusShipped  DeliverableStatus = "shipped"
	StatusRejected DeliverableStatus = "rejected"
)

// a declared deliverable with its contract
type Deliverable struct {
	DeliverableId uuid.UUID         `json:"deliverable_id"`
	TenantId      string            `json:"tenant_id"`
	RootTaskId    string            `json:"root_task_id"`
	Spec          DeliverableSpec   `json:"spec"`
	Status        DeliverableStatus `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
}

// the result of evaluating a deliverable's contract against the current
// live artifact set
type ClosureReport struct {
	// true iff all three requirement categories are satisfied
	Satisfied bool `json:"satisfied"`
	// required artifact ids with no live pointer
	MissingIds []uuid.UUID `json:"missing_ids"`
	// required roles carried by no live pointer
	MissingRoles []ArtifactRole `json:"missing_roles"`
	// requirement names not yet explicitly marked complete
	MissingRequirements []string `json:"missing_requirements"`
	// the live pointers matched by the contract; these are the pointers a
	// shipment would freeze into its manifest
	MatchedPointers []ArtifactPointer `json:"matched_pointers"`
}

// a frozen record of what was shipped when; persisted iff its deliverable
// transitioned to shipped
type ShipmentManifest struct {
	ManifestId    uuid.UUID `json:"manifest_id"`
	DeliverableId uuid.UUID `json:"deliverable_id"`
	TenantId      string    `json:"tenant_id"`
	RootTaskId    string    `json:"root_task_id"`
	// pointers frozen by value at ship time
	ArtifactPointers []ArtifactPointer `json:"artifact_pointers"`
	// resolved sink URI
	Destination string    `json:"destination"`
	ShippedAt   time.Time `json:"shipped_at"`
}

// kinds of receipts emitted by DepotGate (closed vocabulary)
type ReceiptKind string

const (
	ReceiptArtifactStaged   ReceiptKind = "artifact_staged"
	ReceiptShipmentRejected ReceiptKind = "shipment_rejected"
	ReceiptShipmentComplete ReceiptKind = "shipment_complete"
	ReceiptPurged           ReceiptKind = "purged"
)

// an immutable causal event record; receipts are append-only and uniquely
// identified by (tenant_id, receipt_id)
type Receipt struct {
	ReceiptId  uuid.UUID   `json:"receipt_id"`
	TenantId   string      `json:"tenant_id"`
	RootTaskId string      `json:"root_task_id"`
	Kind       ReceiptKind `json:"kind"`
	EmittedAt  time.Time   `json:"emitted_at"`
	// structured event payload, opaque to the store
	Payload json.RawMessage `json:"payload"`
	// optional causal back-link to an earlier receipt
	CausedByReceiptId string `json:"caused_by_receipt_id,omitempty"`
}

// retention policies recognized by purge
type PurgePolicy string

const (
	PurgeImmediate PurgePolicy = "immediate"
	PurgeRetain24h PurgePolicy = "retain_24h"
	PurgeRetain7d  PurgePolicy = "retain_7d"
	PurgeManual    PurgePolicy = "manual"
)

// parses a string as a purge policy (empty selects "immediate")
func ParsePurgePolicy(s string) (PurgePolicy, error) {
	switch PurgePolicy(s) {
	case PurgeImmediate, PurgeRetain24h, PurgeRetain7d, PurgeManual:
		return PurgePolicy(s), nil
	case "":
		return PurgeImmediate, nil
	}
	return "", fmt.Errorf("invalid purge policy: %s", s)
}

// returns the retention duration implied by the policy and whether the
// policy defers byte deletion to a janitor
func (p PurgePolicy) RetainFor() (time.Duration, bool) {
	switch p {
	case PurgeRetain24h:
		return 24 * time.Hour, true
	case PurgeRetain7d:
		return 7 * 24 * time.Hour, true
	}
	return 0, false
}
