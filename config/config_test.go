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

package config

// These tests verify that we can properly configure the depot service with
// YAML input.
import (
	"fmt"
	"os"
	"path/filepath"

	"testing"

	"github.com/stretchr/testify/assert"
)

// a valid service config entry
const VALID_SERVICE string = `
service:
  port: 8080
  maxConnections: 100
  data_dir: /tmp/depotgate
`

// a valid auth config entry
const VALID_AUTH string = `
auth:
  api_key: ${DEPOTGATE_TEST_API_KEY}
`

// tests whether config.Init reports an error for blank input
func TestInitRejectsBlankInput(t *testing.T) {
	b := []byte("")
	err := Init(b)
	assert.NotNil(t, err, "Blank config didn't trigger an error.")
}

// tests whether config.Init reports an error for an invalid port
func TestInitRejectsBadPort(t *testing.T) {
	yaml := "service:\n  port: -1\n  data_dir: /tmp/depotgate\n\n" + VALID_AUTH
	err := Init([]byte(yaml))
	assert.NotNil(t, err, "Config with bad port didn't trigger an error.")
	yaml = "service:\n  port: 1000000\n  data_dir: /tmp/depotgate\n\n" + VALID_AUTH
	err = Init([]byte(yaml))
	assert.NotNil(t, err, "Config with bad port didn't trigger an error.")
}

// tests whether config.Init reports an error for an invalid max number of
// connections
func TestInitRejectsBadMaxConnections(t *testing.T) {
	yaml := "service:\n  maxConnections: 0\n  data_dir: /tmp/depotgate\n\n" + VALID_AUTH
	err := Init([]byte(yaml))
	assert.NotNil(t, err, "Config with bad maxConnections didn't trigger an error.")
}

// tests whether config.Init rejects a configuration with no credentials and
// no insecure escape hatch (the service is fail-closed)
func TestInitRejectsMissingCredentials(t *testing.T) {
	err := Init([]byte(VALID_SERVICE))
	assert.NotNil(t, err, "Config with no credentials didn't trigger an error.")

	yaml := VALID_SERVICE + "auth:\n  allow_insecure_dev: true\n"
	err = Init([]byte(yaml))
	assert.Nil(t, err, "Config with allow_insecure_dev triggered an error.")
}

// tests whether config.Init rejects an unknown storage scheme
func TestInitRejectsBadStorageScheme(t *testing.T) {
	yaml := VALID_SERVICE + VALID_AUTH + "storage:\n  scheme: s3\n"
	err := Init([]byte(yaml))
	assert.NotNil(t, err, "Config with bad storage scheme didn't trigger an error.")
}

// tests whether config.Init rejects an unknown sink
func TestInitRejectsBadSink(t *testing.T) {
	yaml := VALID_SERVICE + VALID_AUTH + "sinks:\n  enabled: [carrier-pigeon]\n"
	err := Init([]byte(yaml))
	assert.NotNil(t, err, "Config with bad sink didn't trigger an error.")
}

// Tests whether config.Init returns no error for a configuration that is
// (ostensibly) valid.
func TestInitAcceptsValidInput(t *testing.T) {
	os.Setenv("DEPOTGATE_TEST_API_KEY", "sooper-seekrit")
	yaml := VALID_SERVICE + VALID_AUTH
	err := Init([]byte(yaml))
	assert.Nil(t, err, fmt.Sprintf("Valid YAML input produced an error: %s", err))
}

// Tests whether config.Init properly initializes its globals for valid input,
// expanding environment variables and filling in data-directory defaults.
func TestInitProperlySetsGlobals(t *testing.T) {
	os.Setenv("DEPOTGATE_TEST_API_KEY", "sooper-seekrit")
	yaml := VALID_SERVICE + VALID_AUTH
	err := Init([]byte(yaml))
	assert.Nil(t, err, fmt.Sprintf("Valid YAML input produced an error: %s", err))

	assert.Equal(t, "127.0.0.1", Service.Host)
	assert.Equal(t, 8080, Service.Port)
	assert.Equal(t, 100, Service.MaxConnections)
	assert.Equal(t, "/tmp/depotgate", Service.DataDirectory)
	assert.Equal(t, "sooper-seekrit", Auth.ApiKey)
	assert.Equal(t, "fs", Storage.Scheme)
	assert.Equal(t, filepath.Join("/tmp/depotgate", "staging"), Storage.BasePath)
	assert.Equal(t, filepath.Join("/tmp/depotgate", "metadata.db"),
		Databases.MetadataDb)
	assert.Equal(t, filepath.Join("/tmp/depotgate", "receipts.db"),
		Databases.ReceiptsDb)
	assert.Equal(t, []string{"fs", "http"}, Sinks.Enabled)
	assert.Equal(t, filepath.Join("/tmp/depotgate", "outbox"),
		Sinks.FilesystemBasePath)
	assert.Equal(t, 30, Sinks.HttpTimeoutSeconds)
}
