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
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/StalkR/hsts"

	"github.com/depotgate/depotgate/depot"
)

// This sink POSTs a shipment to an http(s) destination as a multipart body:
// the manifest descriptor first, then one part per artifact. It never
// retries; transport failures surface to the caller with state unchanged.
type httpSink struct {
	client *http.Client
}

func newHttpSink(options Options) Sink {
	client := &http.Client{
		Transport: hsts.New(http.DefaultTransport),
	}
	if options.HttpTimeoutSeconds > 0 {
		client.Timeout = time.Duration(options.HttpTimeoutSeconds) * time.Second
	}
	return &httpSink{client: client}
}

func (sink *httpSink) Ship(ctx context.Context, artifacts []depot.ArtifactPointer,
	destination string, manifest depot.ShipmentManifest,
	getContent ContentGetter) error {

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	document, err := marshalManifest(manifest)
	if err != nil {
		return err
	}
	manifestPart, err := createPart(writer, "manifest", "manifest.json", "application/json")
	if err != nil {
		return err
	}
	if _, err := manifestPart.Write(document); err != nil {
		return err
	}

	for _, pointer := range artifacts {
		if err := writeArtifactPart(ctx, writer, pointer, getContent); err != nil {
			return err
		}
	}
	if err := writer.Close(); err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, destination, &body)
	if err != nil {
		return &TransportFailureError{Destination: destination, Err: err}
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())

	response, err := sink.client.Do(request)
	if err != nil {
		return &TransportFailureError{Destination: destination, Err: err}
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return &TransportFailureError{
			Destination: destination,
			Err:         fmt.Errorf("destination returned status %d", response.StatusCode),
		}
	}
	return nil
}

// adds one artifact to the multipart body, streaming its content
func writeArtifactPart(ctx context.Context, writer *multipart.Writer,
	pointer depot.ArtifactPointer, getContent ContentGetter) error {
	content, err := getContent(ctx, pointer.ArtifactId)
	if err != nil {
		return err
	}
	defer content.Close()

	part, err := createPart(writer, "artifact", artifactFilename(pointer), pointer.MimeType)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, content)
	return err
}

// creates a multipart part with explicit field name, filename, and content type
func createPart(writer *multipart.Writer, field, filename, contentType string) (io.Writer, error) {
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	header.Set("Content-Type", contentType)
	return writer.CreatePart(header)
}
