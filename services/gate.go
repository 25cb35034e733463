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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humamux"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/net/netutil"

	"github.com/depotgate/depotgate/deliverables"
	"github.com/depotgate/depotgate/depot"
	"github.com/depotgate/depotgate/mcp"
	"github.com/depotgate/depotgate/receipts"
	"github.com/depotgate/depotgate/shipping"
	"github.com/depotgate/depotgate/staging"
)

// Version numbers
var majorVersion = 0
var minorVersion = 1
var patchVersion = 0

// Version string
var version = fmt.Sprintf("%d.%d.%d", majorVersion, minorVersion, patchVersion)

// Options assembles a depot gate service from its parts. The composition
// root constructs the stores and engines and passes them in; the service
// itself holds no configuration globals.
type Options struct {
	Staging      *staging.Area
	Deliverables *deliverables.Manager
	Shipping     *shipping.Service
	Receipts     *receipts.Store
	Auth         AuthOptions
	// maximum number of allowed incoming connections
	MaxConnections int
	// whether the agent tool endpoints are mounted under /mcp
	EnableAgentTools bool
}

// This type implements the DepotService interface, gating artifact traffic
// between task workspaces and the outside world.
type gate struct {
	// name of the service
	Name string
	// service version identifier
	Version string
	// time which the service was started
	StartTime time.Time
	// port on which the service currently runs
	Port int
	// router for REST endpoints
	Router *mux.Router
	// API wrapper
	API huma.API
	// HTTP server.
	Server *http.Server

	staging        *staging.Area
	deliverables   *deliverables.Manager
	shipping       *shipping.Service
	receipts       *receipts.Store
	auth           *authenticator
	maxConnections int
}

type ServiceInfoOutput struct {
	Body ServiceInfoResponse `doc:"information about the service itself"`
}

// handler method for root (no authorization needed for this one)
func (service *gate) getRoot(ctx context.Context,
	input *struct{}) (*ServiceInfoOutput, error) {

	slog.Info("Querying root endpoint...")
	return &ServiceInfoOutput{
		Body: ServiceInfoResponse{
			Name:          service.Name,
			Version:       service.Version,
			Uptime:        int(service.uptime()),
			Documentation: "/docs",
		},
	}, nil
}

type ArtifactOutput struct {
	Body   depot.ArtifactPointer `doc:"the pointer registered for the staged artifact"`
	Status int
}

// handler method for staging an artifact (the raw request body is the
// artifact's content)
func (service *gate) stageArtifact(ctx context.Context,
	input *struct {
		Authorization string `header:"Authorization" doc:"Authorization header with a bearer credential"`
		XApiKey       string `header:"X-API-Key" doc:"API key header (alternative to Authorization)"`
		Tenant        string `query:"tenant" example:"tenant-a" doc:"the tenant staging the artifact"`
		Task          string `query:"task" example:"task-42" doc:"the root task the artifact belongs to"`
		Role          string `query:"role" example:"final_output" doc:"the artifact's role (defaults to supporting)"`
		ProducedBy    string `query:"produced_by" doc:"optional id of the receipt that produced this artifact"`
		ContentType   string `header:"Content-Type" doc:"the artifact's MIME type"`
		RawBody       []byte
	}) (*ArtifactOutput, error) {

	if err := service.auth.authorize(input.Authorization, input.XApiKey); err != nil {
		return nil, err
	}

	pointer, err := service.staging.Stage(ctx, staging.StageRequest{
		TenantId:            input.Tenant,
		RootTaskId:          input.Task,
		Content:             bytes.NewReader(input.RawBody),
		MimeType:            input.ContentType,
		Role:                input.Role,
		ProducedByReceiptId: input.ProducedBy,
	})
	if err != nil {
		// a failed receipt write doesn't undo the staging
		var writeFailed *receipts.WriteFailedError
		if !errors.As(err, &writeFailed) {
			return nil, apiError(err)
		}
	}
	return &ArtifactOutput{Body: pointer, Status: http.StatusCreated}, nil
}

type ArtifactsOutput struct {
	Body []depot.ArtifactPointer `doc:"the task's live artifact pointers, newest first"`
}

// handler method for listing a task's live artifacts
func (service *gate) listArtifacts(ctx context.Context,
	input *struct {
		Authorization string `header:"Authorization" doc:"Authorization header with a bearer credential"`
		XApiKey       string `header:"X-API-Key" doc:"API key header (alternative to Authorization)"`
		Tenant        string `query:"tenant" example:"tenant-a" doc:"the tenant whose artifacts are listed"`
		Task          string `query:"task" example:"task-42" doc:"the root task whose artifacts are listed"`
		Role          string `query:"role" example:"final_output" doc:"optional role filter"`
	}) (*ArtifactsOutput, error) {

	if err := service.auth.authorize(input.Authorization, input.XApiKey); err != nil {
		return nil, err
	}
	pointers, err := service.staging.List(ctx, input.Tenant, input.Task, input.Role)
	if err != nil {
		return nil, apiError(err)
	}
	if pointers == nil {
		pointers = []depot.ArtifactPointer{}
	}
	return &ArtifactsOutput{Body: pointers}, nil
}

type SingleArtifactOutput struct {
	Body depot.ArtifactPointer `doc:"the requested artifact pointer"`
}

// handler method for fetching a single live artifact pointer
func (service *gate) getArtifact(ctx context.Context,
	input *struct {
		Authorization string    `header:"Authorization" doc:"Authorization header with a bearer credential"`
		XApiKey       string    `header:"X-API-Key" doc:"API key header (alternative to Authorization)"`
		Tenant        string    `query:"tenant" example:"tenant-a" doc:"the artifact's tenant"`
		Id            uuid.UUID `path:"id" doc:"the UUID of the requested artifact"`
	}) (*SingleArtifactOutput, error) {

	if err := service.auth.authorize(input.Authorization, input.XApiKey); err != nil {
		return nil, err
	}
	pointer, err := service.staging.Get(ctx, input.Tenant, input.Id)
	if err != nil {
		return nil, apiError(err)
	}
	return &SingleArtifactOutput{Body: pointer}, nil
}

type ArtifactContentOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

// handler method for downloading an artifact's bytes
func (service *gate) getArtifactContent(ctx context.Context,
	input *struct {
		Authorization string    `header:"Authorization" doc:"Authorization header with a bearer credential"`
		XApiKey       string    `header:"X-API-Key" doc:"API key header (alternative to Authorization)"`
		Tenant        string    `query:"tenant" example:"tenant-a" doc:"the artifact's tenant"`
		Id            uuid.UUID `path:"id" doc:"the UUID of the requested artifact"`
	}) (*ArtifactContentOutput, error) {

	if err := service.auth.authorize(input.Authorization, input.XApiKey); err != nil {
		return nil, err
	}
	reader, pointer, err := service.staging.Content(ctx, input.Tenant, input.Id)
	if err != nil {
		return nil, apiError(err)
	}
	defer reader.Close()
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, apiError(err)
	}
	return &ArtifactContentOutput{
		ContentType: pointer.MimeType,
		Body:        content,
	}, nil
}

type DeliverableOutput struct {
	Body   depot.Deliverable `doc:"the declared deliverable with its contract"`
	Status int
}

// handler method for declaring a deliverable
func (service *gate) declareDeliverable(ctx context.Context,
	input *struct {
		Authorization string             `header:"Authorization" doc:"Authorization header with a bearer credential"`
		XApiKey       string             `header:"X-API-Key" doc:"API key header (alternative to Authorization)"`
		Tenant        string             `query:"tenant" example:"tenant-a" doc:"the tenant declaring the deliverable"`
		Body          DeliverableRequest `doc:"The body of a POST request declaring a deliverable"`
	}) (*DeliverableOutput, error) {

	if err := service.auth.authorize(input.Authorization, input.XApiKey); err != nil {
		return nil, err
	}

	roles := make([]depot.ArtifactRole, len(input.Body.ArtifactRoles))
	for i, role := range input.Body.ArtifactRoles {
		roles[i] = depot.ArtifactRole(role)
	}
	deliverable, err := service.deliverables.Declare(ctx, input.Tenant,
		input.Body.RootTaskId, depot.DeliverableSpec{
			ArtifactIds:         input.Body.ArtifactIds,
			ArtifactRoles:       roles,
			Requirements:        input.Body.Requirements,
			ShippingDestination: input.Body.ShippingDestination,
		})
	if err != nil {
		return nil, apiError(err)
	}
	return &DeliverableOutput{Body: deliverable, Status: http.StatusCreated}, nil
}

type DeliverablesOutput struct {
	Body []depot.Deliverable `doc:"the task's deliverables, newest first"`
}

// handler method for listing a task's deliverables
func (service *gate) listDeliverables(ctx context.Context,
	input *struct {
		Authorization string `header:"Authorization" doc:"Authorization header with a bearer credential"`
		XApiKey       string `header:"X-API-Key" doc:"API key header (alternative to Authorization)"`
		Tenant        string `query:"tenant" example:"tenant-a" doc:"the tenant whose deliverables are listed"`
		Task          string `query:"task" example:"task-42" doc:"the root task whose deliverables are listed"`
		Status        string `query:"status" example:"declared" doc:"optional status filter"`
	}) (*DeliverablesOutput, error) {

	if err := service.auth.authorize(input.Authorization, input.XApiKey); err != nil {
		return nil, err
	}
	listed, err := service.deliverables.List(ctx, input.Tenant, input.Task,
		input.Status)
	if err != nil {
		return nil, apiError(err)
	}
	if listed == nil {
		listed = []depot.Deliverable{}
	}
	return &DeliverablesOutput{Body: listed}, nil
}

type SingleDeliverableOutput struct {
	Body depot.Deliverable `doc:"the requested deliverable"`
}

// handler method for fetching a single deliverable
func (service *gate) getDeliverable(ctx context.Context,
	input *struct {
		Authorization string    `header:"Authorization" doc:"Authorization header with a bearer credential"`
		XApiKey       string    `header:"X-API-Key" doc:"API key header (alternative to Authorization)"`
		Tenant        string    `query:"tenant" example:"tenant-a" doc:"the deliverable's tenant"`
		Id            uuid.UUID `path:"id" doc:"the UUID of the requested deliverable"`
	}) (*SingleDeliverableOutput, error) {

	if err := service.auth.authorize(input.Authorization, input.XApiKey); err != nil {
		return nil, err
	}
	deliverable, err := service.deliverables.Get(ctx, input.Tenant, input.Id)
	if err != nil {
		return nil, apiError(err)
	}
	return &SingleDeliverableOutput{Body: deliverable}, nil
}

type ClosureOutput struct {
	Body depot.ClosureReport `doc:"the deliverable's closure report"`
}

// handler method for checking a deliverable's closure (a pure query)
func (service *gate) getClosure(ctx context.Context,
	input *struct {
		Authorization string    `header:"Authorization" doc:"Authorization header with a bearer credential"`
		XApiKey       string    `header:"X-API-Key" doc:"API key header (alternative to Authorization)"`
		Tenant        string    `query:"tenant" example:"tenant-a" doc:"the deliverable's tenant"`
		Id            uuid.UUID `path:"id" doc:"the UUID of the deliverable to check"`
	}) (*ClosureOutput, error) {

	if err := service.auth.authorize(input.Authorization, input.XApiKey); err != nil {
		return nil, err
	}
	report, err := service.deliverables.CheckClosure(ctx, input.Tenant, input.Id)
	if err != nil {
		return nil, apiError(err)
	}
	return &ClosureOutput{Body: report}, nil
}

type RequirementOutput struct {
	Status int
}

// handler method for marking a named requirement satisfied
func (service *gate) markRequirement(ctx context.Context,
	input *struct {
		Authorization string    `header:"Authorization" doc:"Authorization header with a bearer credential"`
		XApiKey       string    `header:"X-API-Key" doc:"API key header (alternative to Authorization)"`
		Tenant        string    `query:"tenant" example:"tenant-a" doc:"the deliverable's tenant"`
		Id            uuid.UUID `path:"id" doc:"the UUID of the deliverable"`
		Name          string    `path:"name" example:"review" doc:"the requirement to mark satisfied"`
	}) (*RequirementOutput, error) {

	if err := service.auth.authorize(input.Authorization, input.XApiKey); err != nil {
		return nil, err
	}
	err := service.deliverables.MarkRequirement(ctx, input.Tenant, input.Id,
		input.Name)
	if err != nil {
		return nil, apiError(err)
	}
	return &RequirementOutput{Status: http.StatusNoContent}, nil
}

type ShipOutput struct {
	Body ShipResponse `doc:"the frozen manifest of the shipment"`
}

// handler method for shipping a deliverable
func (service *gate) shipDeliverable(ctx context.Context,
	input *struct {
		Authorization string    `header:"Authorization" doc:"Authorization header with a bearer credential"`
		XApiKey       string    `header:"X-API-Key" doc:"API key header (alternative to Authorization)"`
		Tenant        string    `query:"tenant" example:"tenant-a" doc:"the deliverable's tenant"`
		Task          string    `query:"task" example:"task-42" doc:"the root task the deliverable belongs to"`
		Id            uuid.UUID `path:"id" doc:"the UUID of the deliverable to ship"`
	}) (*ShipOutput, error) {

	if err := service.auth.authorize(input.Authorization, input.XApiKey); err != nil {
		return nil, err
	}
	manifest, err := service.shipping.Ship(ctx, input.Tenant, input.Task, input.Id)
	if err != nil {
		// a failed receipt write doesn't undo the shipment
		var writeFailed *receipts.WriteFailedError
		if !errors.As(err, &writeFailed) {
			return nil, apiError(err)
		}
	}
	return &ShipOutput{Body: ShipResponse{Manifest: manifest}}, nil
}

type PurgeOutput struct {
	Body PurgeResponse `doc:"the ids of the artifacts actually purged"`
}

// handler method for purging artifacts under a retention policy
func (service *gate) purgeArtifacts(ctx context.Context,
	input *struct {
		Authorization string       `header:"Authorization" doc:"Authorization header with a bearer credential"`
		XApiKey       string       `header:"X-API-Key" doc:"API key header (alternative to Authorization)"`
		Tenant        string       `query:"tenant" example:"tenant-a" doc:"the tenant purging artifacts"`
		Body          PurgeRequest `doc:"The body of a POST request purging artifacts"`
	}) (*PurgeOutput, error) {

	if err := service.auth.authorize(input.Authorization, input.XApiKey); err != nil {
		return nil, err
	}
	purged, err := service.shipping.Purge(ctx, input.Tenant, input.Body.RootTaskId,
		input.Body.ArtifactIds, input.Body.Policy)
	if err != nil {
		// a failed receipt write doesn't undo the purge
		var writeFailed *receipts.WriteFailedError
		if !errors.As(err, &writeFailed) {
			return nil, apiError(err)
		}
	}
	if purged == nil {
		purged = []uuid.UUID{}
	}
	return &PurgeOutput{Body: PurgeResponse{PurgedIds: purged}}, nil
}

type ReceiptsOutput struct {
	Body []depot.Receipt `doc:"the task's receipts in emission order"`
}

// handler method for listing a task's receipts
func (service *gate) listReceipts(ctx context.Context,
	input *struct {
		Authorization string `header:"Authorization" doc:"Authorization header with a bearer credential"`
		XApiKey       string `header:"X-API-Key" doc:"API key header (alternative to Authorization)"`
		Tenant        string `query:"tenant" example:"tenant-a" doc:"the tenant whose receipts are listed"`
		Task          string `query:"task" example:"task-42" doc:"the root task whose receipts are listed"`
	}) (*ReceiptsOutput, error) {

	if err := service.auth.authorize(input.Authorization, input.XApiKey); err != nil {
		return nil, err
	}
	listed, err := service.receipts.List(input.Tenant, input.Task)
	if err != nil {
		return nil, apiError(err)
	}
	if listed == nil {
		listed = []depot.Receipt{}
	}
	return &ReceiptsOutput{Body: listed}, nil
}

type ShipmentsOutput struct {
	Body []depot.ShipmentManifest `doc:"the task's shipment manifests in shipping order"`
}

// handler method for listing a task's shipments
func (service *gate) listShipments(ctx context.Context,
	input *struct {
		Authorization string `header:"Authorization" doc:"Authorization header with a bearer credential"`
		XApiKey       string `header:"X-API-Key" doc:"API key header (alternative to Authorization)"`
		Tenant        string `query:"tenant" example:"tenant-a" doc:"the tenant whose shipments are listed"`
		Task          string `query:"task" example:"task-42" doc:"the root task whose shipments are listed"`
	}) (*ShipmentsOutput, error) {

	if err := service.auth.authorize(input.Authorization, input.XApiKey); err != nil {
		return nil, err
	}
	manifests, err := service.shipping.Manifests(ctx, input.Tenant, input.Task)
	if err != nil {
		return nil, apiError(err)
	}
	if manifests == nil {
		manifests = []depot.ShipmentManifest{}
	}
	return &ShipmentsOutput{Body: manifests}, nil
}

type SingleShipmentOutput struct {
	Body depot.ShipmentManifest `doc:"the requested shipment manifest"`
}

// handler method for fetching a single shipment manifest
func (service *gate) getShipment(ctx context.Context,
	input *struct {
		Authorization string    `header:"Authorization" doc:"Authorization header with a bearer credential"`
		XApiKey       string    `header:"X-API-Key" doc:"API key header (alternative to Authorization)"`
		Tenant        string    `query:"tenant" example:"tenant-a" doc:"the manifest's tenant"`
		Id            uuid.UUID `path:"id" doc:"the UUID of the requested manifest"`
	}) (*SingleShipmentOutput, error) {

	if err := service.auth.authorize(input.Authorization, input.XApiKey); err != nil {
		return nil, err
	}
	manifest, err := service.shipping.Manifest(ctx, input.Tenant, input.Id)
	if err != nil {
		return nil, apiError(err)
	}
	return &SingleShipmentOutput{Body: manifest}, nil
}

// returns the uptime for the service in seconds
func (service *gate) uptime() float64 {
	return time.Since(service.StartTime).Seconds()
}

// constructs a depot gate service from its assembled parts
func NewDepotGate(options Options) (DepotService, error) {
	if options.Staging == nil || options.Deliverables == nil ||
		options.Shipping == nil || options.Receipts == nil {
		return nil, fmt.Errorf("All depot components must be provided.")
	}
	if options.MaxConnections <= 0 {
		return nil, fmt.Errorf("Invalid maxConnections: %d (must be positive)",
			options.MaxConnections)
	}
	auth, err := newAuthenticator(options.Auth)
	if err != nil {
		return nil, err
	}

	service := new(gate)
	service.Name = "DepotGate"
	service.Version = version
	service.Port = -1
	service.staging = options.Staging
	service.deliverables = options.Deliverables
	service.shipping = options.Shipping
	service.receipts = options.Receipts
	service.auth = auth
	service.maxConnections = options.MaxConnections

	// set up routing
	service.Router = mux.NewRouter()
	api := humamux.New(service.Router, huma.DefaultConfig(service.Name, service.Version))
	service.API = api
	huma.Get(api, "/", service.getRoot)

	// API v1
	huma.Post(api, "/api/v1/artifacts", service.stageArtifact)
	huma.Get(api, "/api/v1/artifacts", service.listArtifacts)
	huma.Get(api, "/api/v1/artifacts/{id}", service.getArtifact)
	huma.Get(api, "/api/v1/artifacts/{id}/content", service.getArtifactContent)
	huma.Post(api, "/api/v1/deliverables", service.declareDeliverable)
	huma.Get(api, "/api/v1/deliverables", service.listDeliverables)
	huma.Get(api, "/api/v1/deliverables/{id}", service.getDeliverable)
	huma.Get(api, "/api/v1/deliverables/{id}/closure", service.getClosure)
	huma.Post(api, "/api/v1/deliverables/{id}/requirements/{name}", service.markRequirement)
	huma.Post(api, "/api/v1/deliverables/{id}/ship", service.shipDeliverable)
	huma.Post(api, "/api/v1/purge", service.purgeArtifacts)
	huma.Get(api, "/api/v1/receipts", service.listReceipts)
	huma.Get(api, "/api/v1/shipments", service.listShipments)
	huma.Get(api, "/api/v1/shipments/{id}", service.getShipment)

	// agent tool endpoints, when enabled
	if options.EnableAgentTools {
		toolServer := mcp.New(mcp.Components{
			Staging:      options.Staging,
			Deliverables: options.Deliverables,
			Shipping:     options.Shipping,
			Receipts:     options.Receipts,
			Authorize:    auth.authorize,
		})
		toolServer.Register(api)
	}

	AddDocEndpoints(service.Router)

	return service, nil
}

// starts the depot gate service
func (service *gate) Start(port int) error {
	slog.Info(fmt.Sprintf("Starting %s service on port %d...", service.Name, port))
	slog.Info(fmt.Sprintf("(Accepting up to %d connections)", service.maxConnections))

	service.StartTime = time.Now()

	// create a listener that limits the number of incoming connections
	service.Port = port
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return err
	}
	defer listener.Close()
	listener = netutil.LimitListener(listener, service.maxConnections)

	// start the server
	service.Server = &http.Server{
		Handler: service.Router}
	err = service.Server.Serve(listener)

	// we don't report the server closing as an error
	if err != http.ErrServerClosed {
		return err
	}
	return nil
}

// gracefully shuts down the service without interrupting active connections
func (service *gate) Shutdown(ctx context.Context) error {
	if service.Server != nil {
		return service.Server.Shutdown(ctx)
	}
	return nil
}

// closes down the service abruptly, freeing all resources
func (service *gate) Close() {
	if service.Server != nil {
		service.Server.Close()
	}
}
