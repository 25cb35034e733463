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

// The mcp package exposes the depot's operations as agent tools: a tool
// listing plus a single dispatch endpoint. Domain failures are reported as
// tool results, never as transport failures, so a calling agent always gets
// something it can reason about.
package mcp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/depotgate/depotgate/deliverables"
	"github.com/depotgate/depotgate/depot"
	"github.com/depotgate/depotgate/receipts"
	"github.com/depotgate/depotgate/shipping"
	"github.com/depotgate/depotgate/staging"
)

// Components holds the depot parts the tools operate on, plus an optional
// Authorize hook supplied by the enclosing service. When Authorize is nil
// the tool endpoints are open.
type Components struct {
	Staging      *staging.Area
	Deliverables *deliverables.Manager
	Shipping     *shipping.Service
	Receipts     *receipts.Store
	Authorize    func(authorizationHeader, apiKeyHeader string) error
}

// a tool descriptor, as presented to calling agents
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// the result of a tool call
type CallResult struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// This type serves the agent tool endpoints.
type Server struct {
	components Components
}

func New(components Components) *Server {
	return &Server{components: components}
}

// Register mounts the tool endpoints on the given API.
func (server *Server) Register(api huma.API) {
	huma.Get(api, "/mcp/tools", server.listTools)
	huma.Post(api, "/mcp/tools/call", server.callTool)
}

// builds a JSON schema for an object with the given properties
func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProperty(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func stringArrayProperty(description string) map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string"},
		"description": description,
	}
}

// the depot's tool catalog
func tools() []Tool {
	return []Tool{
		{
			Name:        "stage_artifact",
			Description: "Stages an artifact in the depot and returns its pointer.",
			InputSchema: objectSchema(map[string]any{
				"tenant_id":              stringProperty("the tenant staging the artifact"),
				"root_task_id":           stringProperty("the root task the artifact belongs to"),
				"content_base64":         stringProperty("the artifact's content, base64-encoded"),
				"mime_type":              stringProperty("the artifact's MIME type"),
				"role":                   stringProperty("the artifact's role (defaults to supporting)"),
				"produced_by_receipt_id": stringProperty("optional id of the receipt that produced this artifact"),
			}, "tenant_id", "root_task_id", "content_base64"),
		},
		{
			Name:        "list_artifacts",
			Description: "Lists a task's live artifact pointers, newest first.",
			InputSchema: objectSchema(map[string]any{
				"tenant_id":    stringProperty("the tenant whose artifacts are listed"),
				"root_task_id": stringProperty("the root task whose artifacts are listed"),
				"role":         stringProperty("optional role filter"),
			}, "tenant_id", "root_task_id"),
		},
		{
			Name:        "declare_deliverable",
			Description: "Declares a deliverable contract for a task.",
			InputSchema: objectSchema(map[string]any{
				"tenant_id":            stringProperty("the tenant declaring the deliverable"),
				"root_task_id":         stringProperty("the root task the deliverable belongs to"),
				"artifact_ids":         stringArrayProperty("specific artifact UUIDs the deliverable requires"),
				"artifact_roles":       stringArrayProperty("artifact roles the deliverable requires"),
				"requirements":         stringArrayProperty("named requirements to satisfy before shipping"),
				"shipping_destination": stringProperty("where the deliverable ships (e.g. fs://outbox)"),
			}, "tenant_id", "root_task_id", "shipping_destination"),
		},
		{
			Name:        "check_closure",
			Description: "Reports whether a deliverable's contract is satisfied, and what is missing.",
			InputSchema: objectSchema(map[string]any{
				"tenant_id":      stringProperty("the deliverable's tenant"),
				"deliverable_id": stringProperty("the UUID of the deliverable to check"),
			}, "tenant_id", "deliverable_id"),
		},
		{
			Name:        "mark_requirement",
			Description: "Marks one of a deliverable's named requirements satisfied.",
			InputSchema: objectSchema(map[string]any{
				"tenant_id":      stringProperty("the deliverable's tenant"),
				"deliverable_id": stringProperty("the UUID of the deliverable"),
				"name":           stringProperty("the requirement to mark satisfied"),
			}, "tenant_id", "deliverable_id", "name"),
		},
		{
			Name:        "ship_deliverable",
			Description: "Ships a satisfied deliverable to its destination and returns the frozen manifest.",
			InputSchema: objectSchema(map[string]any{
				"tenant_id":      stringProperty("the deliverable's tenant"),
				"root_task_id":   stringProperty("the root task the deliverable belongs to"),
				"deliverable_id": stringProperty("the UUID of the deliverable to ship"),
			}, "tenant_id", "root_task_id", "deliverable_id"),
		},
		{
			Name:        "purge_artifacts",
			Description: "Purges staged artifacts under a retention policy.",
			InputSchema: objectSchema(map[string]any{
				"tenant_id":    stringProperty("the tenant purging artifacts"),
				"root_task_id": stringProperty("the root task whose artifacts are purged"),
				"artifact_ids": stringArrayProperty("the UUIDs of the artifacts to purge"),
				"policy":       stringProperty("the purge policy (immediate, retain_24h, retain_7d, manual)"),
			}, "tenant_id", "root_task_id", "artifact_ids", "policy"),
		},
		{
			Name:        "list_receipts",
			Description: "Lists a task's receipts in emission order.",
			InputSchema: objectSchema(map[string]any{
				"tenant_id":    stringProperty("the tenant whose receipts are listed"),
				"root_task_id": stringProperty("the root task whose receipts are listed"),
			}, "tenant_id", "root_task_id"),
		},
	}
}

type ToolsOutput struct {
	Body struct {
		Tools []Tool `json:"tools" doc:"the depot's tool catalog"`
	}
}

// handler method for the tool listing
func (server *Server) listTools(ctx context.Context,
	input *struct{}) (*ToolsOutput, error) {

	output := new(ToolsOutput)
	output.Body.Tools = tools()
	return output, nil
}

type CallOutput struct {
	Body CallResult `doc:"the outcome of the tool call"`
}

// handler method for tool dispatch
func (server *Server) callTool(ctx context.Context,
	input *struct {
		Authorization string `header:"Authorization" doc:"Authorization header with a bearer credential"`
		XApiKey       string `header:"X-API-Key" doc:"API key header (alternative to Authorization)"`
		Body          struct {
			Name      string          `json:"name" example:"list_artifacts" doc:"the tool to call"`
			Arguments json.RawMessage `json:"arguments" doc:"the tool's arguments"`
		}
	}) (*CallOutput, error) {

	if server.components.Authorize != nil {
		if err := server.components.Authorize(input.Authorization, input.XApiKey); err != nil {
			return nil, err
		}
	}

	arguments := input.Body.Arguments
	if len(arguments) == 0 {
		arguments = json.RawMessage("{}")
	}

	var result CallResult
	switch input.Body.Name {
	case "stage_artifact":
		result = server.stageArtifact(ctx, arguments)
	case "list_artifacts":
		result = server.listArtifacts(ctx, arguments)
	case "declare_deliverable":
		result = server.declareDeliverable(ctx, arguments)
	case "check_closure":
		result = server.checkClosure(ctx, arguments)
	case "mark_requirement":
		result = server.markRequirement(ctx, arguments)
	case "ship_deliverable":
		result = server.shipDeliverable(ctx, arguments)
	case "purge_artifacts":
		result = server.purgeArtifacts(ctx, arguments)
	case "list_receipts":
		result = server.listReceipts(ctx, arguments)
	default:
		result = failure(fmt.Errorf("unknown tool: %s", input.Body.Name))
	}
	return &CallOutput{Body: result}, nil
}

func success(result any) CallResult {
	return CallResult{Success: true, Result: result}
}

func failure(err error) CallResult {
	return CallResult{Success: false, Error: err.Error()}
}

// reports malformed tool arguments
func badArguments(err error) CallResult {
	return failure(fmt.Errorf("invalid arguments: %s", err.Error()))
}

func parseUuid(field, value string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("invalid %s: %s", field, value)
	}
	return id, nil
}

func parseUuids(field string, values []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, len(values))
	for i, value := range values {
		id, err := parseUuid(field, value)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func (server *Server) stageArtifact(ctx context.Context,
	arguments json.RawMessage) CallResult {
	var args struct {
		TenantId            string `json:"tenant_id"`
		RootTaskId          string `json:"root_task_id"`
		ContentBase64       string `json:"content_base64"`
		MimeType            string `json:"mime_type"`
		Role                string `json:"role"`
		ProducedByReceiptId string `json:"produced_by_receipt_id"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return badArguments(err)
	}
	content, err := base64.StdEncoding.DecodeString(args.ContentBase64)
	if err != nil {
		return badArguments(fmt.Errorf("content_base64 is not valid base64"))
	}
	pointer, err := server.components.Staging.Stage(ctx, staging.StageRequest{
		TenantId:            args.TenantId,
		RootTaskId:          args.RootTaskId,
		Content:             bytes.NewReader(content),
		MimeType:            args.MimeType,
		Role:                args.Role,
		ProducedByReceiptId: args.ProducedByReceiptId,
	})
	if err != nil {
		// the artifact is staged even when its receipt write failed
		var writeFailed *receipts.WriteFailedError
		if !errors.As(err, &writeFailed) {
			return failure(err)
		}
	}
	return success(pointer)
}

func (server *Server) listArtifacts(ctx context.Context,
	arguments json.RawMessage) CallResult {
	var args struct {
		TenantId   string `json:"tenant_id"`
		RootTaskId string `json:"root_task_id"`
		Role       string `json:"role"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return badArguments(err)
	}
	pointers, err := server.components.Staging.List(ctx, args.TenantId,
		args.RootTaskId, args.Role)
	if err != nil {
		return failure(err)
	}
	if pointers == nil {
		pointers = []depot.ArtifactPointer{}
	}
	return success(pointers)
}

func (server *Server) declareDeliverable(ctx context.Context,
	arguments json.RawMessage) CallResult {
	var args struct {
		TenantId            string   `json:"tenant_id"`
		RootTaskId          string   `json:"root_task_id"`
		ArtifactIds         []string `json:"artifact_ids"`
		ArtifactRoles       []string `json:"artifact_roles"`
		Requirements        []string `json:"requirements"`
		ShippingDestination string   `json:"shipping_destination"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return badArguments(err)
	}
	ids, err := parseUuids("artifact_ids", args.ArtifactIds)
	if err != nil {
		return badArguments(err)
	}
	roles := make([]depot.ArtifactRole, len(args.ArtifactRoles))
	for i, role := range args.ArtifactRoles {
		roles[i] = depot.ArtifactRole(role)
	}
	deliverable, err := server.components.Deliverables.Declare(ctx,
		args.TenantId, args.RootTaskId, depot.DeliverableSpec{
			ArtifactIds:         ids,
			ArtifactRoles:       roles,
			Requirements:        args.Requirements,
			ShippingDestination: args.ShippingDestination,
		})
	if err != nil {
		return failure(err)
	}
	return success(deliverable)
}

func (server *Server) checkClosure(ctx context.Context,
	arguments json.RawMessage) CallResult {
	var args struct {
		TenantId      string `json:"tenant_id"`
		DeliverableId string `json:"deliverable_id"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return badArguments(err)
	}
	id, err := parseUuid("deliverable_id", args.DeliverableId)
	if err != nil {
		return badArguments(err)
	}
	report, err := server.components.Deliverables.CheckClosure(ctx,
		args.TenantId, id)
	if err != nil {
		return failure(err)
	}
	return success(report)
}

func (server *Server) markRequirement(ctx context.Context,
	arguments json.RawMessage) CallResult {
	var args struct {
		TenantId      string `json:"tenant_id"`
		DeliverableId string `json:"deliverable_id"`
		Name          string `json:"name"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return badArguments(err)
	}
	id, err := parseUuid("deliverable_id", args.DeliverableId)
	if err != nil {
		return badArguments(err)
	}
	err = server.components.Deliverables.MarkRequirement(ctx, args.TenantId,
		id, args.Name)
	if err != nil {
		return failure(err)
	}
	return success(map[string]any{"marked": args.Name})
}

func (server *Server) shipDeliverable(ctx context.Context,
	arguments json.RawMessage) CallResult {
	var args struct {
		TenantId      string `json:"tenant_id"`
		RootTaskId    string `json:"root_task_id"`
		DeliverableId string `json:"deliverable_id"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return badArguments(err)
	}
	id, err := parseUuid("deliverable_id", args.DeliverableId)
	if err != nil {
		return badArguments(err)
	}
	manifest, err := server.components.Shipping.Ship(ctx, args.TenantId,
		args.RootTaskId, id)
	if err != nil {
		// the shipment went out even when its receipt write failed
		var writeFailed *receipts.WriteFailedError
		if !errors.As(err, &writeFailed) {
			return failure(err)
		}
	}
	return success(manifest)
}

func (server *Server) purgeArtifacts(ctx context.Context,
	arguments json.RawMessage) CallResult {
	var args struct {
		TenantId    string   `json:"tenant_id"`
		RootTaskId  string   `json:"root_task_id"`
		ArtifactIds []string `json:"artifact_ids"`
		Policy      string   `json:"policy"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return badArguments(err)
	}
	ids, err := parseUuids("artifact_ids", args.ArtifactIds)
	if err != nil {
		return badArguments(err)
	}
	purged, err := server.components.Shipping.Purge(ctx, args.TenantId,
		args.RootTaskId, ids, args.Policy)
	if err != nil {
		// the purge took effect even when its receipt write failed
		var writeFailed *receipts.WriteFailedError
		if !errors.As(err, &writeFailed) {
			return failure(err)
		}
	}
	if purged == nil {
		purged = []uuid.UUID{}
	}
	return success(map[string]any{"purged_ids": purged})
}

func (server *Server) listReceipts(ctx context.Context,
	arguments json.RawMessage) CallResult {
	var args struct {
		TenantId   string `json:"tenant_id"`
		RootTaskId string `json:"root_task_id"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return badArguments(err)
	}
	listed, err := server.components.Receipts.List(args.TenantId, args.RootTaskId)
	if err != nil {
		return failure(err)
	}
	if listed == nil {
		listed = []depot.Receipt{}
	}
	return success(listed)
}
