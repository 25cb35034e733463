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
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/depotgate/depotgate/deliverables"
	"github.com/depotgate/depotgate/metadata"
	"github.com/depotgate/depotgate/receipts"
	"github.com/depotgate/depotgate/sanitize"
	"github.com/depotgate/depotgate/shipping"
	"github.com/depotgate/depotgate/sinks"
	"github.com/depotgate/depotgate/staging"
	"github.com/depotgate/depotgate/storage"
)

// maps domain errors onto HTTP status codes; anything unrecognized is a 500
func apiError(err error) error {
	var invalidId *sanitize.InvalidIdentifierError
	var invalidLocation *sanitize.InvalidLocationError
	var pathViolation *sanitize.PathViolationError
	var invalidRequest *staging.InvalidRequestError
	var invalidSpec *deliverables.InvalidSpecError
	var unknownRequirement *deliverables.UnknownRequirementError
	var invalidPurge *shipping.InvalidPurgeError
	var unknownSink *sinks.UnknownSinkError
	var unknownBackend *storage.UnknownBackendError
	if errors.As(err, &invalidId) || errors.As(err, &invalidLocation) ||
		errors.As(err, &pathViolation) || errors.As(err, &invalidRequest) ||
		errors.As(err, &invalidSpec) || errors.As(err, &unknownRequirement) ||
		errors.As(err, &invalidPurge) || errors.As(err, &unknownSink) ||
		errors.As(err, &unknownBackend) {
		return huma.Error400BadRequest(err.Error())
	}

	var tooLarge *storage.ArtifactTooLargeError
	if errors.As(err, &tooLarge) {
		return huma.NewError(http.StatusRequestEntityTooLarge, err.Error())
	}

	var metadataNotFound *metadata.NotFoundError
	var receiptNotFound *receipts.NotFoundError
	var artifactMissing *storage.ArtifactMissingError
	if errors.As(err, &metadataNotFound) || errors.As(err, &receiptNotFound) ||
		errors.As(err, &artifactMissing) {
		return huma.Error404NotFound(err.Error())
	}

	var alreadyShipped *shipping.AlreadyShippedError
	var alreadyRejected *shipping.AlreadyRejectedError
	var notDeclared *deliverables.NotDeclaredError
	var noArtifacts *shipping.NoArtifactsError
	var raceLost *shipping.RaceLostError
	var wrongTask *shipping.WrongTaskError
	var pointerExists *metadata.PointerExistsError
	if errors.As(err, &alreadyShipped) || errors.As(err, &alreadyRejected) ||
		errors.As(err, &notDeclared) || errors.As(err, &noArtifacts) ||
		errors.As(err, &raceLost) || errors.As(err, &wrongTask) ||
		errors.As(err, &pointerExists) {
		return huma.Error409Conflict(err.Error())
	}

	var notSatisfied *shipping.ClosureNotSatisfiedError
	if errors.As(err, &notSatisfied) {
		// the caller gets the full report to see what's missing
		return huma.Error409Conflict(err.Error(), &huma.ErrorDetail{
			Message:  "closure not satisfied",
			Location: "deliverable",
			Value:    notSatisfied.Report,
		})
	}

	var transport *sinks.TransportFailureError
	if errors.As(err, &transport) {
		return huma.Error502BadGateway(err.Error())
	}

	return huma.Error500InternalServerError(err.Error())
}
