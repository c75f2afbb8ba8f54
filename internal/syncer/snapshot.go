package syncer

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/moromii/receipt-ledger/internal/expense"
)

// SnapshotVersion is the wire format version of the drive snapshot.
const SnapshotVersion = "1.0"

// DeviceInfo describes the device that wrote a snapshot. Purely
// informational; never consulted during merge.
type DeviceInfo struct {
	UserAgent string `json:"userAgent"`
	Platform  string `json:"platform"`
	IsMobile  bool   `json:"isMobile"`
}

// Snapshot is the unit exchanged with the cloud-drive store: the full record
// set plus metadata. Constructed fresh on every sync, never persisted
// locally.
type Snapshot struct {
	Expenses     []expense.Record `json:"expenses"`
	LastModified string           `json:"lastModified"`
	Version      string           `json:"version"`
	DeviceInfo   *DeviceInfo      `json:"deviceInfo,omitempty"`
}

// NewSnapshot wraps a record set for writing to the drive store
func NewSnapshot(records []expense.Record, now time.Time) *Snapshot {
	hostname, _ := os.Hostname()
	return &Snapshot{
		Expenses:     records,
		LastModified: now.UTC().Format(time.RFC3339),
		Version:      SnapshotVersion,
		DeviceInfo: &DeviceInfo{
			UserAgent: fmt.Sprintf("receipt-ledger (%s)", hostname),
			Platform:  runtime.GOOS,
			IsMobile:  false,
		},
	}
}

// snapshotSchema validates the snapshot shape before any merge sees it.
// A snapshot written by an old client may carry a null lastModified.
const snapshotSchema = `{
	"type": "object",
	"required": ["expenses", "version"],
	"properties": {
		"expenses": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "date", "category", "amount", "status", "updatedAt"],
				"properties": {
					"id": {"type": "string"},
					"date": {"type": "string"},
					"category": {"type": "string"},
					"amount": {"type": "integer", "minimum": 0},
					"status": {"enum": ["active", "deleted"]},
					"updatedAt": {"type": "string"}
				}
			}
		},
		"lastModified": {"type": ["string", "null"]},
		"version": {"type": "string"}
	}
}`

var snapshotSchemaLoader = gojsonschema.NewStringLoader(snapshotSchema)

// ParseSnapshot validates raw snapshot JSON against the schema and
// unmarshals it. A malformed snapshot aborts the sync cycle rather than
// feeding garbage into the merge.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	result, err := gojsonschema.Validate(snapshotSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("validating snapshot: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("invalid snapshot: %s", result.Errors()[0])
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	return &snap, nil
}
