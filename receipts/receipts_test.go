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

package receipts

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/depotgate/depotgate/depot"
)

// directory holding per-test database files
var testDir string

// this function gets called when the tests are run
func TestMain(m *testing.M) {
	var err error
	testDir, err = os.MkdirTemp(os.TempDir(), "depotgate-receipt-tests-")
	if err != nil {
		log.Panicf("Couldn't create temporary directory: %s", err.Error())
	}
	status := m.Run()
	os.RemoveAll(testDir)
	os.Exit(status)
}

// opens a fresh store backed by its own database file
func openStore(t *testing.T) *Store {
	store, err := Open(filepath.Join(testDir, t.Name()+".db"))
	if err != nil {
		t.Fatalf("Couldn't open receipt store: %s", err.Error())
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAppendAndGet(t *testing.T) {
	assert := assert.New(t)
	store := openStore(t)

	receipt, err := New("tenant-a", "task-1", depot.ReceiptArtifactStaged,
		map[string]string{"note": "staged"}, "")
	assert.Nil(err)
	assert.NotEqual(uuid.Nil, receipt.ReceiptId)
	assert.Nil(store.Append(receipt))

	fetched, err := store.Get("tenant-a", receipt.ReceiptId)
	assert.Nil(err)
	assert.Equal(receipt.ReceiptId, fetched.ReceiptId)
	assert.Equal(depot.ReceiptArtifactStaged, fetched.Kind)
	var payload map[string]string
	assert.Nil(json.Unmarshal(fetched.Payload, &payload))
	assert.Equal("staged", payload["note"])

	// receipt ids are tenant-scoped
	_, err = store.Get("tenant-b", receipt.ReceiptId)
	var notFoundErr *NotFoundError
	assert.ErrorAs(err, &notFoundErr)
}

func TestAppendRefusesDuplicateIds(t *testing.T) {
	assert := assert.New(t)
	store := openStore(t)

	receipt, err := New("tenant-a", "task-1", depot.ReceiptPurged, nil, "")
	assert.Nil(err)
	assert.Nil(store.Append(receipt))

	err = store.Append(receipt)
	var duplicateErr *DuplicateReceiptError
	assert.ErrorAs(err, &duplicateErr)
	assert.Equal(receipt.ReceiptId, duplicateErr.ReceiptId)

	// the duplicate attempt left a single record behind
	receipts, err := store.List("tenant-a", "task-1")
	assert.Nil(err)
	assert.Equal(1, len(receipts))
}

func TestListOrdersByEmissionTime(t *testing.T) {
	assert := assert.New(t)
	store := openStore(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	kinds := []depot.ReceiptKind{
		depot.ReceiptArtifactStaged,
		depot.ReceiptShipmentComplete,
		depot.ReceiptPurged,
	}
	// append out of order; emission times differ only in the subsecond part
	for _, i := range []int{2, 0, 1} {
		receipt := depot.Receipt{
			ReceiptId:  uuid.New(),
			TenantId:   "tenant-a",
			RootTaskId: "task-1",
			Kind:       kinds[i],
			EmittedAt:  base.Add(time.Duration(i) * time.Millisecond),
			Payload:    json.RawMessage(`{}`),
		}
		assert.Nil(store.Append(receipt))
	}
	// a receipt on another task must not leak into the scan
	other := depot.Receipt{
		ReceiptId:  uuid.New(),
		TenantId:   "tenant-a",
		RootTaskId: "task-10",
		Kind:       depot.ReceiptPurged,
		EmittedAt:  base,
		Payload:    json.RawMessage(`{}`),
	}
	assert.Nil(store.Append(other))

	receipts, err := store.List("tenant-a", "task-1")
	assert.Nil(err)
	assert.Equal(3, len(receipts))
	for i, receipt := range receipts {
		assert.Equal(kinds[i], receipt.Kind)
	}

	receipts, err = store.List("tenant-a", "no-such-task")
	assert.Nil(err)
	assert.Equal(0, len(receipts))
}

func TestCausalLinkValidation(t *testing.T) {
	assert := assert.New(t)
	assert.True(ValidCausalLink(""))
	assert.True(ValidCausalLink(uuid.New().String()))
	assert.False(ValidCausalLink("not-a-uuid"))
	assert.False(ValidCausalLink(" " + uuid.New().String()))
}
