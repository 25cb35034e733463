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

// This package is the append-only receipt store, which logs every significant
// depot event as an immutable causal record. There are no update or delete
// code paths; once a receipt lands it stays.
package receipts

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/depotgate/depotgate/depot"
)

// Receipts are keyed by <root_task_id>|<emitted_at>|<receipt_id> inside a
// per-tenant bucket, so a cursor scan over a task prefix yields the task's
// receipts in emission order. The timestamp uses a fixed-width UTC layout so
// that byte comparison orders keys correctly.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// per-tenant bucket holding receipt records
const receiptsBucket = "receipts"

// per-tenant bucket enforcing receipt id uniqueness
const idsBucket = "ids"

// Store is the receipt database. It is safe for concurrent use; bbolt
// serializes writers.
type Store struct {
	db *bolt.DB
}

// opens (creating if necessary) the receipt database in the given file
func Open(dbFile string) (*Store, error) {
	db, err := bolt.Open(dbFile, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (store *Store) Close() error {
	return store.db.Close()
}

// constructs a receipt with a fresh id and the current time, marshaling the
// given payload
func New(tenantId, rootTaskId string, kind depot.ReceiptKind, payload any,
	causedByReceiptId string) (depot.Receipt, error) {
	payloadJson, err := json.Marshal(payload)
	if err != nil {
		return depot.Receipt{}, err
	}
	return depot.Receipt{
		ReceiptId:         uuid.New(),
		TenantId:          tenantId,
		RootTaskId:        rootTaskId,
		Kind:              kind,
		EmittedAt:         time.Now().UTC(),
		Payload:           payloadJson,
		CausedByReceiptId: causedByReceiptId,
	}, nil
}

// the key under which a receipt is stored within its tenant bucket
func receiptKey(receipt depot.Receipt) []byte {
	return []byte(receipt.RootTaskId + "|" +
		receipt.EmittedAt.UTC().Format(timeLayout) + "|" +
		receipt.ReceiptId.String())
}

// appends a receipt; ids are unique per tenant, so replaying the same
// receipt is refused
func (store *Store) Append(receipt depot.Receipt) error {
	tx, err := store.db.Begin(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tenant, err := tx.CreateBucketIfNotExists([]byte(receipt.TenantId))
	if err != nil {
		return err
	}
	records, err := tenant.CreateBucketIfNotExists([]byte(receiptsBucket))
	if err != nil {
		return err
	}
	ids, err := tenant.CreateBucketIfNotExists([]byte(idsBucket))
	if err != nil {
		return err
	}

	idKey := []byte(receipt.ReceiptId.String())
	if ids.Get(idKey) != nil {
		return &DuplicateReceiptError{ReceiptId: receipt.ReceiptId}
	}

	jsonBytes, err := json.Marshal(&receipt)
	if err != nil {
		return err
	}
	key := receiptKey(receipt)
	if err := records.Put(key, jsonBytes); err != nil {
		return err
	}
	if err := ids.Put(idKey, key); err != nil {
		return err
	}
	return tx.Commit()
}

// returns a task's receipts in emission order
func (store *Store) List(tenantId, rootTaskId string) ([]depot.Receipt, error) {
	var receipts []depot.Receipt
	err := store.db.View(func(tx *bolt.Tx) error {
		tenant := tx.Bucket([]byte(tenantId))
		if tenant == nil {
			return nil
		}
		records := tenant.Bucket([]byte(receiptsBucket))
		if records == nil {
			return nil
		}
		prefix := []byte(rootTaskId + "|")
		cursor := records.Cursor()
		for key, value := cursor.Seek(prefix); key != nil && bytes.HasPrefix(key, prefix); key, value = cursor.Next() {
			var receipt depot.Receipt
			if err := json.Unmarshal(value, &receipt); err != nil {
				return err
			}
			receipts = append(receipts, receipt)
		}
		return nil
	})
	return receipts, err
}

// fetches a single receipt by id
func (store *Store) Get(tenantId string, receiptId uuid.UUID) (depot.Receipt, error) {
	var receipt depot.Receipt
	found := false
	err := store.db.View(func(tx *bolt.Tx) error {
		tenant := tx.Bucket([]byte(tenantId))
		if tenant == nil {
			return nil
		}
		ids := tenant.Bucket([]byte(idsBucket))
		records := tenant.Bucket([]byte(receiptsBucket))
		if ids == nil || records == nil {
			return nil
		}
		key := ids.Get([]byte(receiptId.String()))
		if key == nil {
			return nil
		}
		value := records.Get(key)
		if value == nil {
			return nil
		}
		if err := json.Unmarshal(value, &receipt); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return depot.Receipt{}, err
	}
	if !found {
		return depot.Receipt{}, &NotFoundError{ReceiptId: receiptId}
	}
	return receipt, nil
}

// reports whether a receipt id is ill-formed for use as a causal back-link
// (back-links are either empty or a receipt UUID)
func ValidCausalLink(causedByReceiptId string) bool {
	if causedByReceiptId == "" {
		return true
	}
	trimmed := strings.TrimSpace(causedByReceiptId)
	if trimmed != causedByReceiptId {
		return false
	}
	_, err := uuid.Parse(causedByReceiptId)
	return err == nil
}
