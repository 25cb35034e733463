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

package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/depotgate/depotgate/depot"
)

// this type encodes a JSON object for responding to root queries
type ServiceInfoResponse struct {
	Name          string `json:"name" example:"DepotGate" doc:"The name of the service API"`
	Version       string `json:"version" example:"1.0.0" doc:"The version string (major.minor.patch)"`
	Uptime        int    `json:"uptime" example:"345600" doc:"The time the service has been up (seconds)"`
	Documentation string `json:"documentation" example:"/docs" doc:"The OpenAPI documentation endpoint"`
}

// a request for declaring a deliverable (POST)
type DeliverableRequest struct {
	// the task the deliverable belongs to
	RootTaskId string `json:"root_task_id" example:"task-42" doc:"the root task the deliverable belongs to"`
	// specific artifact ids that must be live before shipping
	ArtifactIds []uuid.UUID `json:"artifact_ids,omitempty" doc:"artifact ids required live at ship time"`
	// roles that must each be carried by some live artifact
	ArtifactRoles []string `json:"artifact_roles,omitempty" example:"[\"final_output\"]" doc:"roles required live at ship time"`
	// named flags marked satisfied out-of-band
	Requirements []string `json:"requirements,omitempty" example:"[\"review\"]" doc:"named requirements marked via the requirements endpoint"`
	// destination URI whose scheme selects the outbound sink
	ShippingDestination string `json:"shipping_destination" example:"fs://outbox/run-1" doc:"where the bundle ships"`
}

// a request for purging artifacts (POST)
type PurgeRequest struct {
	RootTaskId  string      `json:"root_task_id" example:"task-42" doc:"the task whose artifacts are purged"`
	ArtifactIds []uuid.UUID `json:"artifact_ids" doc:"ids of the artifacts to purge"`
	Policy      string      `json:"policy,omitempty" example:"immediate" doc:"retention policy (immediate, retain_24h, retain_7d, manual)"`
}

// a response for a purge request
type PurgeResponse struct {
	// ids actually purged (already-purged and unknown ids are skipped)
	PurgedIds []uuid.UUID `json:"purged_ids"`
}

// a response for a ship request; the shipment's closure report rides along
// only on rejection, inside the error body
type ShipResponse struct {
	Manifest depot.ShipmentManifest `json:"manifest"`
}

// DepotService defines the interface for the depot gate service.
type DepotService interface {
	// Starts the service on the selected port, returning an error that indicates
	// success or failure.
	Start(port int) error
	// Gracefully shuts down the service without interrupting active connections.
	Shutdown(ctx context.Context) error
	// Closes down the service, freeing all resources.
	Close()
}
