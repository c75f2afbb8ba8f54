package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DefaultSnapshotName is the well-known drive filename holding a user's
// entire record set.
const DefaultSnapshotName = "receipt_expenses_data.json"

// DriveStore reads and writes the snapshot file on Google Drive. One file
// per account, found by name.
type DriveStore struct {
	svc      *drive.Service
	fileName string
}

// NewDriveStore creates a DriveStore over an authenticated HTTP client
func NewDriveStore(client *http.Client, fileName string) (*DriveStore, error) {
	if fileName == "" {
		fileName = DefaultSnapshotName
	}

	svc, err := drive.NewService(context.Background(), option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("creating drive service: %w", err)
	}

	return &DriveStore{svc: svc, fileName: fileName}, nil
}

// findFile returns the snapshot file ID, or empty when no file exists yet
func (d *DriveStore) findFile(ctx context.Context) (string, error) {
	list, err := d.svc.Files.List().
		Q(fmt.Sprintf("name='%s' and trashed=false", d.fileName)).
		Spaces("drive").
		Fields("files(id, name, modifiedTime)").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("searching for snapshot file: %w", err)
	}
	if len(list.Files) == 0 {
		return "", nil
	}
	return list.Files[0].Id, nil
}

// Load fetches and validates the remote snapshot. A missing file yields an
// empty snapshot; any transport or validation failure propagates so the
// caller can abort the cycle.
func (d *DriveStore) Load(ctx context.Context) (*Snapshot, error) {
	fileID, err := d.findFile(ctx)
	if err != nil {
		return nil, err
	}
	if fileID == "" {
		return &Snapshot{Expenses: nil, Version: SnapshotVersion}, nil
	}

	resp, err := d.svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("downloading snapshot: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	return ParseSnapshot(data)
}

// Save creates or overwrites the snapshot file. Rate-limited writes are
// retried once before giving up.
func (d *DriveStore) Save(ctx context.Context, snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	return retry.Do(
		func() error {
			fileID, err := d.findFile(ctx)
			if err != nil {
				return err
			}

			if fileID != "" {
				_, err = d.svc.Files.Update(fileID, &drive.File{}).
					Media(bytes.NewReader(data)).
					Context(ctx).
					Do()
				if err != nil {
					return fmt.Errorf("updating snapshot file: %w", err)
				}
				return nil
			}

			_, err = d.svc.Files.Create(&drive.File{
				Name:     d.fileName,
				MimeType: "application/json",
			}).
				Media(bytes.NewReader(data)).
				Context(ctx).
				Do()
			if err != nil {
				return fmt.Errorf("creating snapshot file: %w", err)
			}
			return nil
		},
		retry.RetryIf(func(err error) bool {
			var apiErr *googleapi.Error
			return errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests
		}),
		retry.Attempts(2),
		retry.Delay(5*time.Second),
		retry.LastErrorOnly(true),
	)
}
