// Package metadata keeps a minimal Iceberg-style table description next to
// the archived parquet files so they can be queried as one table.
package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DataFile describes a single parquet file written by the archive.
type DataFile struct {
	Path        string         `json:"path"`
	FileSize    int64          `json:"file_size_in_bytes"`
	RecordCount int64          `json:"record_count"`
	Partition   map[string]any `json:"partition"`
	Timestamp   time.Time      `json:"-"`
}

// ManifestEntry mirrors the information kept in an Iceberg manifest file.
type ManifestEntry struct {
	Status   int      `json:"status"`
	DataFile DataFile `json:"data_file"`
}

// Snapshot holds the information required for time-travel queries.
type Snapshot struct {
	SnapshotID  int64             `json:"snapshot-id"`
	TimestampMs int64             `json:"timestamp-ms"`
	Manifest    string            `json:"manifest-list"`
	Summary     map[string]string `json:"summary,omitempty"`
}

// TableMetadata represents the table metadata file.
type TableMetadata struct {
	FormatVersion     int        `json:"format-version"`
	TableUUID         string     `json:"table-uuid"`
	Location          string     `json:"location"`
	LastUpdatedMs     int64      `json:"last-updated-ms"`
	PartitionSpec     []string   `json:"partition-spec"`
	CurrentSnapshotID int64      `json:"current-snapshot-id"`
	Snapshots         []Snapshot `json:"snapshots"`
}

// Generator incrementally builds table metadata. It is safe for concurrent
// use by several upload workers.
type Generator struct {
	mu        sync.Mutex
	basePath  string
	location  string
	tableName string
	tableUUID string
	partition []string
	snapshots []Snapshot
	lastID    int64
}

// NewGenerator returns a generator writing under basePath for a table stored
// at location (for example s3://bucket/signals).
func NewGenerator(basePath, location, tableName string, partition ...string) *Generator {
	if location == "" {
		location = basePath
	}
	return &Generator{
		basePath:  basePath,
		location:  location,
		tableName: tableName,
		tableUUID: uuid.NewString(),
		partition: partition,
	}
}

// AddFile records a newly written parquet file and rewrites metadata.json.
// Snapshot ids increase strictly even when files share a timestamp.
func (g *Generator) AddFile(df DataFile) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := df.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	snapID := ts.UnixNano()
	if snapID <= g.lastID {
		snapID = g.lastID + 1
	}

	manifestFile := fmt.Sprintf("manifest-%d.json", snapID)
	manifestPath := filepath.Join(g.basePath, "metadata", manifestFile)
	if err := os.MkdirAll(filepath.Dir(manifestPath), 0o755); err != nil {
		return fmt.Errorf("create metadata dir: %w", err)
	}
	b, err := json.Marshal([]ManifestEntry{{Status: 1, DataFile: df}})
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(manifestPath, b, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	g.lastID = snapID
	g.snapshots = append(g.snapshots, Snapshot{
		SnapshotID:  snapID,
		TimestampMs: ts.UnixMilli(),
		Manifest:    manifestFile,
		Summary: map[string]string{
			"operation":     "append",
			"added-records": fmt.Sprintf("%d", df.RecordCount),
			"added-size":    fmt.Sprintf("%d", df.FileSize),
		},
	})
	return g.writeTableMetadata()
}

// Snapshots returns a copy of the recorded snapshots, oldest first.
func (g *Generator) Snapshots() []Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Snapshot, len(g.snapshots))
	copy(out, g.snapshots)
	return out
}

// MetadataPath is where metadata.json is written.
func (g *Generator) MetadataPath() string {
	return filepath.Join(g.basePath, "metadata", "metadata.json")
}

func (g *Generator) writeTableMetadata() error {
	if len(g.snapshots) == 0 {
		return nil
	}
	last := g.snapshots[len(g.snapshots)-1]
	tm := TableMetadata{
		FormatVersion:     2,
		TableUUID:         g.tableUUID,
		Location:          g.location,
		LastUpdatedMs:     last.TimestampMs,
		PartitionSpec:     g.partition,
		CurrentSnapshotID: last.SnapshotID,
		Snapshots:         g.snapshots,
	}
	b, err := json.MarshalIndent(tm, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal table metadata: %w", err)
	}
	return os.WriteFile(g.MetadataPath(), b, 0o644)
}

// WriteCatalogEntry creates a catalog entry pointing at the table metadata.
func (g *Generator) WriteCatalogEntry(catalogDir string) error {
	entry := map[string]string{
		"name":              g.tableName,
		"location":          g.location,
		"metadata_location": g.MetadataPath(),
	}
	if err := os.MkdirAll(catalogDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(catalogDir, fmt.Sprintf("%s.json", g.tableName))
	b, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
