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

// This package is the relational metadata store for pointers, deliverables,
// shipment manifests and requirement marks. It is the single source of truth
// for deliverable status: every transition runs as a compare-and-set inside
// the database, so concurrent shippers serialize here.
package metadata

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/depotgate/depotgate/depot"
)

// timestamps are stored in this fixed-width UTC layout so that string
// comparison orders them correctly
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS artifacts (
	artifact_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	root_task_id TEXT NOT NULL,
	location TEXT NOT NULL,
	size_bytes INTEGER NOT NULL,
	mime_type TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	artifact_role TEXT NOT NULL,
	produced_by_receipt_id TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	purged_at TEXT,
	purge_after TEXT,
	PRIMARY KEY (tenant_id, artifact_id)
);
CREATE INDEX IF NOT EXISTS artifacts_by_task
	ON artifacts (tenant_id, root_task_id, created_at);
CREATE TABLE IF NOT EXISTS deliverables (
	deliverable_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	root_task_id TEXT NOT NULL,
	spec TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (tenant_id, deliverable_id)
);
CREATE TABLE IF NOT EXISTS manifests (
	manifest_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	deliverable_id TEXT NOT NULL,
	root_task_id TEXT NOT NULL,
	document TEXT NOT NULL,
	shipped_at TEXT NOT NULL,
	PRIMARY KEY (tenant_id, manifest_id)
);
CREATE TABLE IF NOT EXISTS requirement_marks (
	tenant_id TEXT NOT NULL,
	deliverable_id TEXT NOT NULL,
	name TEXT NOT NULL,
	marked_at TEXT NOT NULL,
	PRIMARY KEY (tenant_id, deliverable_id, name)
);
`

// Store provides access to the metadata database. It is safe for concurrent
// use; connections come from an internal pool.
type Store struct {
	pool *sqlitex.Pool
}

// opens (creating if necessary) the metadata database in the given file
func Open(ctx context.Context, dbFile string) (*Store, error) {
	pool, err := sqlitex.NewPool(dbFile, sqlitex.PoolOptions{PoolSize: 4})
	if err != nil {
		return nil, err
	}
	store := &Store{pool: pool}
	err = store.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, schema, nil)
	})
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (store *Store) Close() error {
	return store.pool.Close()
}

// runs fn on a pooled connection
func (store *Store) withConn(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := store.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer store.pool.Put(conn)
	return fn(conn)
}

//-------------------
// artifact pointers
//-------------------

// a filter restricting which live pointers are selected; zero values select
// everything
type PointerFilter struct {
	Role depot.ArtifactRole
	Ids  []uuid.UUID
}

// registers a new pointer; the (tenant, artifact) pair must not exist yet
func (store *Store) InsertPointer(ctx context.Context, pointer depot.ArtifactPointer) error {
	return store.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			`INSERT INTO artifacts (artifact_id, tenant_id, root_task_id, location,
				size_bytes, mime_type, content_hash, artifact_role,
				produced_by_receipt_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT DO NOTHING`,
			&sqlitex.ExecOptions{
				Args: []any{
					pointer.ArtifactId.String(), pointer.TenantId, pointer.RootTaskId,
					pointer.Location, pointer.SizeBytes, pointer.MimeType,
					pointer.ContentHash, string(pointer.ArtifactRole),
					pointer.ProducedByReceiptId,
					pointer.CreatedAt.UTC().Format(timeLayout),
				},
			})
		if err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return &PointerExistsError{ArtifactId: pointer.ArtifactId}
		}
		return nil
	})
}

// reads a pointer out of the current result row
func readPointer(stmt *sqlite.Stmt) (depot.ArtifactPointer, error) {
	artifactId, err := uuid.Parse(stmt.GetText("artifact_id"))
	if err != nil {
		return depot.ArtifactPointer{}, err
	}
	createdAt, err := time.Parse(timeLayout, stmt.GetText("created_at"))
	if err != nil {
		return depot.ArtifactPointer{}, err
	}
	return depot.ArtifactPointer{
		ArtifactId:          artifactId,
		TenantId:            stmt.GetText("tenant_id"),
		RootTaskId:          stmt.GetText("root_task_id"),
		Location:            stmt.GetText("location"),
		SizeBytes:           stmt.GetInt64("size_bytes"),
		MimeType:            stmt.GetText("mime_type"),
		ContentHash:         stmt.GetText("content_hash"),
		ArtifactRole:        depot.ArtifactRole(stmt.GetText("artifact_role")),
		ProducedByReceiptId: stmt.GetText("produced_by_receipt_id"),
		CreatedAt:           createdAt,
	}, nil
}

// returns the live (unpurged) pointers for a task matching the filter,
// newest first
func (store *Store) LivePointers(ctx context.Context, tenantId, rootTaskId string,
	filter PointerFilter) ([]depot.ArtifactPointer, error) {
	wanted := make(map[uuid.UUID]bool)
	for _, id := range filter.Ids {
		wanted[id] = true
	}
	var pointers []depot.ArtifactPointer
	err := store.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT * FROM artifacts
			 WHERE tenant_id = ? AND root_task_id = ? AND purged_at IS NULL
			 ORDER BY created_at DESC, artifact_id`,
			&sqlitex.ExecOptions{
				Args: []any{tenantId, rootTaskId},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					pointer, err := readPointer(stmt)
					if err != nil {
						return err
					}
					if filter.Role != "" && pointer.ArtifactRole != filter.Role {
						return nil
					}
					if len(wanted) > 0 && !wanted[pointer.ArtifactId] {
						return nil
					}
					pointers = append(pointers, pointer)
					return nil
				},
			})
	})
	return pointers, err
}

// fetches a single live pointer by id
func (store *Store) GetPointer(ctx context.Context, tenantId string,
	artifactId uuid.UUID) (depot.ArtifactPointer, error) {
	var pointer depot.ArtifactPointer
	found := false
	err := store.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT * FROM artifacts
			 WHERE tenant_id = ? AND artifact_id = ? AND purged_at IS NULL`,
			&sqlitex.ExecOptions{
				Args: []any{tenantId, artifactId.String()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					var err error
					pointer, err = readPointer(stmt)
					found = err == nil
					return err
				},
			})
	})
	if err != nil {
		return depot.ArtifactPointer{}, err
	}
	if !found {
		return depot.ArtifactPointer{}, &NotFoundError{Kind: "artifact", Id: artifactId}
	}
	return pointer, nil
}

// marks the given pointers purged, recording the purge time and (for delayed
// policies) the time after which bytes may be deleted; returns the pointers
// that were live and are now marked, skipping ids already purged, unknown,
// or belonging to another task
func (store *Store) MarkPurged(ctx context.Context, tenantId, rootTaskId string,
	artifactIds []uuid.UUID, now time.Time,
	purgeAfter *time.Time) ([]depot.ArtifactPointer, error) {
	var purgeAfterArg any
	if purgeAfter != nil {
		purgeAfterArg = purgeAfter.UTC().Format(timeLayout)
	}
	var marked []depot.ArtifactPointer
	err := store.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		release := sqlitex.Save(conn)
		defer release(&err)
		for _, artifactId := range artifactIds {
			var pointer depot.ArtifactPointer
			found := false
			err = sqlitex.Execute(conn,
				`SELECT * FROM artifacts
				 WHERE tenant_id = ? AND root_task_id = ? AND artifact_id = ?
				   AND purged_at IS NULL`,
				&sqlitex.ExecOptions{
					Args: []any{tenantId, rootTaskId, artifactId.String()},
					ResultFunc: func(stmt *sqlite.Stmt) error {
						var err error
						pointer, err = readPointer(stmt)
						found = err == nil
						return err
					},
				})
			if err != nil {
				return err
			}
			if !found { // already purged, never staged, or another task's; skip
				continue
			}
			err = sqlitex.Execute(conn,
				`UPDATE artifacts SET purged_at = ?, purge_after = ?
				 WHERE tenant_id = ? AND root_task_id = ? AND artifact_id = ?
				   AND purged_at IS NULL`,
				&sqlitex.ExecOptions{
					Args: []any{now.UTC().Format(timeLayout), purgeAfterArg,
						tenantId, rootTaskId, artifactId.String()},
				})
			if err != nil {
				return err
			}
			marked = append(marked, pointer)
		}
		return nil
	})
	return marked, err
}

//---------------
// deliverables
//---------------

// records a newly declared deliverable
func (store *Store) InsertDeliverable(ctx context.Context, deliverable depot.Deliverable) error {
	specJson, err := json.Marshal(deliverable.Spec)
	if err != nil {
		return err
	}
	return store.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO deliverables (deliverable_id, tenant_id, root_task_id,
				spec, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{
					deliverable.DeliverableId.String(), deliverable.TenantId,
					deliverable.RootTaskId, string(specJson),
					string(deliverable.Status),
					deliverable.CreatedAt.UTC().Format(timeLayout),
				},
			})
	})
}

func readDeliverable(stmt *sqlite.Stmt) (depot.Deliverable, error) {
	deliverableId, err := uuid.Parse(stmt.GetText("deliverable_id"))
	if err != nil {
		return depot.Deliverable{}, err
	}
	createdAt, err := time.Parse(timeLayout, stmt.GetText("created_at"))
	if err != nil {
		return depot.Deliverable{}, err
	}
	var spec depot.DeliverableSpec
	if err := json.Unmarshal([]byte(stmt.GetText("spec")), &spec); err != nil {
		return depot.Deliverable{}, err
	}
	return depot.Deliverable{
		DeliverableId: deliverableId,
		TenantId:      stmt.GetText("tenant_id"),
		RootTaskId:    stmt.GetText("root_task_id"),
		Spec:          spec,
		Status:        depot.DeliverableStatus(stmt.GetText("status")),
		CreatedAt:     createdAt,
	}, nil
}

func (store *Store) GetDeliverable(ctx context.Context, tenantId string,
	deliverableId uuid.UUID) (depot.Deliverable, error) {
	var deliverable depot.Deliverable
	found := false
	err := store.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT * FROM deliverables WHERE tenant_id = ? AND deliverable_id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{tenantId, deliverableId.String()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					var err error
					deliverable, err = readDeliverable(stmt)
					found = err == nil
					return err
				},
			})
	})
	if err != nil {
		return depot.Deliverable{}, err
	}
	if !found {
		return depot.Deliverable{}, &NotFoundError{Kind: "deliverable", Id: deliverableId}
	}
	return deliverable, nil
}

// lists a task's deliverables, newest first; an empty status matches all
func (store *Store) ListDeliverables(ctx context.Context, tenantId, rootTaskId string,
	status depot.DeliverableStatus) ([]depot.Deliverable, error) {
	var deliverables []depot.Deliverable
	err := store.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT * FROM deliverables
			 WHERE tenant_id = ? AND root_task_id = ?
			 ORDER BY created_at DESC, deliverable_id`,
			&sqlitex.ExecOptions{
				Args: []any{tenantId, rootTaskId},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					deliverable, err := readDeliverable(stmt)
					if err != nil {
						return err
					}
					if status != "" && deliverable.Status != status {
						return nil
					}
					deliverables = append(deliverables, deliverable)
					return nil
				},
			})
	})
	return deliverables, err
}

// compare-and-sets a deliverable's status on an open connection
func transitionOn(conn *sqlite.Conn, tenantId string, deliverableId uuid.UUID,
	from, to depot.DeliverableStatus) error {
	err := sqlitex.Execute(conn,
		`UPDATE deliverables SET status = ?
		 WHERE tenant_id = ? AND deliverable_id = ? AND status = ?`,
		&sqlitex.ExecOptions{
			Args: []any{string(to), tenantId, deliverableId.String(), string(from)},
		})
	if err != nil {
		return err
	}
	if conn.Changes() > 0 {
		return nil
	}
	// no row changed: distinguish a missing deliverable from a lost race
	current := ""
	err = sqlitex.Execute(conn,
		`SELECT status FROM deliverables WHERE tenant_id = ? AND deliverable_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{tenantId, deliverableId.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				current = stmt.ColumnText(0)
				return nil
			},
		})
	if err != nil {
		return err
	}
	if current == "" {
		return &NotFoundError{Kind: "deliverable", Id: deliverableId}
	}
	return &CASFailedError{DeliverableId: deliverableId,
		Status: depot.DeliverableStatus(current)}
}

// transitions a deliverable from one status to another; fails with
// CASFailedError if the deliverable is no longer in the expected status
func (store *Store) TransitionDeliverable(ctx context.Context, tenantId string,
	deliverableId uuid.UUID, from, to depot.DeliverableStatus) error {
	return store.withConn(ctx, func(conn *sqlite.Conn) error {
		return transitionOn(conn, tenantId, deliverableId, from, to)
	})
}

//---------------------
// shipment manifests
//---------------------

// atomically transitions the manifest's deliverable from declared to shipped
// and persists the manifest; if the compare-and-set loses, nothing persists
func (store *Store) CommitShipment(ctx context.Context, manifest depot.ShipmentManifest) error {
	document, err := json.Marshal(manifest)
	if err != nil {
		return err
	}
	return store.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		release := sqlitex.Save(conn)
		defer release(&err)
		err = transitionOn(conn, manifest.TenantId, manifest.DeliverableId,
			depot.StatusDeclared, depot.StatusShipped)
		if err != nil {
			return err
		}
		return sqlitex.Execute(conn,
			`INSERT INTO manifests (manifest_id, tenant_id, deliverable_id,
				root_task_id, document, shipped_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{
					manifest.ManifestId.String(), manifest.TenantId,
					manifest.DeliverableId.String(), manifest.RootTaskId,
					string(document),
					manifest.ShippedAt.UTC().Format(timeLayout),
				},
			})
	})
}

func (store *Store) GetManifest(ctx context.Context, tenantId string,
	manifestId uuid.UUID) (depot.ShipmentManifest, error) {
	var manifest depot.ShipmentManifest
	found := false
	err := store.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT document FROM manifests WHERE tenant_id = ? AND manifest_id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{tenantId, manifestId.String()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					err := json.Unmarshal([]byte(stmt.ColumnText(0)), &manifest)
					found = err == nil
					return err
				},
			})
	})
	if err != nil {
		return depot.ShipmentManifest{}, err
	}
	if !found {
		return depot.ShipmentManifest{}, &NotFoundError{Kind: "manifest", Id: manifestId}
	}
	return manifest, nil
}

// lists a task's shipment manifests in shipping order
func (store *Store) ListManifests(ctx context.Context, tenantId,
	rootTaskId string) ([]depot.ShipmentManifest, error) {
	var manifests []depot.ShipmentManifest
	err := store.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT document FROM manifests
			 WHERE tenant_id = ? AND root_task_id = ?
			 ORDER BY shipped_at, manifest_id`,
			&sqlitex.ExecOptions{
				Args: []any{tenantId, rootTaskId},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					var manifest depot.ShipmentManifest
					if err := json.Unmarshal([]byte(stmt.ColumnText(0)), &manifest); err != nil {
						return err
					}
					manifests = append(manifests, manifest)
					return nil
				},
			})
	})
	return manifests, err
}

//---------------------
// requirement marks
//---------------------

// records that a named requirement of a deliverable has been satisfied;
// marking the same name again is a no-op
func (store *Store) MarkRequirement(ctx context.Context, tenantId string,
	deliverableId uuid.UUID, name string, now time.Time) error {
	return store.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO requirement_marks (tenant_id, deliverable_id, name, marked_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT DO NOTHING`,
			&sqlitex.ExecOptions{
				Args: []any{tenantId, deliverableId.String(), name,
					now.UTC().Format(timeLayout)},
			})
	})
}

// returns the set of requirement names marked satisfied for a deliverable
func (store *Store) RequirementMarks(ctx context.Context, tenantId string,
	deliverableId uuid.UUID) (map[string]bool, error) {
	marks := make(map[string]bool)
	err := store.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT name FROM requirement_marks
			 WHERE tenant_id = ? AND deliverable_id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{tenantId, deliverableId.String()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					marks[stmt.ColumnText(0)] = true
					return nil
				},
			})
	})
	return marks, err
}
