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

// This package contains testing utilities for DepotGate.
package depottest

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Enables DEBUG log messages for DepotGate's structured log (slog).
func EnableDebugLogging() {
	logLevel := new(slog.LevelVar)
	logLevel.Set(slog.LevelDebug)
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(h))
}

// A Workspace is a throwaway directory tree holding everything a depot
// needs: a staging area, database files, and a sink outbox.
type Workspace struct {
	// the workspace's root directory
	Dir string
}

// creates a temporary workspace with the standard depot subdirectories
func NewWorkspace() (Workspace, error) {
	dir, err := os.MkdirTemp(os.TempDir(), "depotgate-workspace-")
	if err != nil {
		return Workspace{}, err
	}
	for _, sub := range []string{"staging", "outbox"} {
		if err := os.Mkdir(filepath.Join(dir, sub), 0755); err != nil {
			os.RemoveAll(dir)
			return Workspace{}, err
		}
	}
	return Workspace{Dir: dir}, nil
}

func (workspace Workspace) StagingDir() string {
	return filepath.Join(workspace.Dir, "staging")
}

func (workspace Workspace) OutboxDir() string {
	return filepath.Join(workspace.Dir, "outbox")
}

func (workspace Workspace) MetadataDb() string {
	return filepath.Join(workspace.Dir, "metadata.db")
}

func (workspace Workspace) ReceiptsDb() string {
	return filepath.Join(workspace.Dir, "receipts.db")
}

// renders a complete YAML configuration for a depot rooted in the workspace,
// suitable for config.Init in tests
func (workspace Workspace) ConfigText() string {
	return fmt.Sprintf(`
service:
  port: 8080
  maxConnections: 100
  data_dir: %s

auth:
  allow_insecure_dev: true

storage:
  scheme: fs
  base_path: %s
  max_artifact_bytes: 1048576

sinks:
  enabled: [fs, http]
  fs_base_path: %s

databases:
  metadata_db: %s
  receipts_db: %s
`, workspace.Dir, workspace.StagingDir(), workspace.OutboxDir(),
		workspace.MetadataDb(), workspace.ReceiptsDb())
}

// removes the workspace and everything in it
func (workspace Workspace) Remove() error {
	return os.RemoveAll(workspace.Dir)
}
