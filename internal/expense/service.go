package expense

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/moromii/receipt-ledger/internal/extraction"
	"github.com/moromii/receipt-ledger/internal/ocr"
	"github.com/moromii/receipt-ledger/internal/session"
)

// IDGenerator generates unique IDs for records
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates IDs using UnixNano timestamp
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Draft is an unconfirmed record proposal built from a scanned receipt. It
// is returned to the caller for confirmation and never persisted.
type Draft struct {
	extraction.Result
	ImageRef string `json:"imageReference"`
}

// Stats summarizes the active record set.
type Stats struct {
	MonthlyTotal int `json:"monthlyTotal"`
	TotalAmount  int `json:"totalAmount"`
	Count        int `json:"count"`
}

// Service handles expense record operations. The local DB is authoritative;
// the cloud store and uploader mirror writes when a session is present,
// degrading to local-only on transport failures.
type Service struct {
	db          DB
	recognizer  ocr.Recognizer
	extractor   *extraction.Engine
	storage     Storage
	cloud       CloudStore
	uploader    Uploader
	sess        *session.Session
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time
// source. cloud, uploader and sess may be nil for local-only operation.
func NewService(db DB, recognizer ocr.Recognizer, storage Storage, cloud CloudStore, uploader Uploader, sess *session.Session) *Service {
	return &Service{
		db:          db,
		recognizer:  recognizer,
		extractor:   extraction.NewEngine(),
		storage:     storage,
		cloud:       cloud,
		uploader:    uploader,
		sess:        sess,
		idGenerator: &defaultIDGenerator{},
		timeSource:  &defaultTimeSource{},
	}
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, recognizer ocr.Recognizer, extractor *extraction.Engine, storage Storage, cloud CloudStore, uploader Uploader, sess *session.Session, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		recognizer:  recognizer,
		extractor:   extractor,
		storage:     storage,
		cloud:       cloud,
		uploader:    uploader,
		sess:        sess,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	filenameStrip  = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	filenameSpaces = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up phone-generated long filenames
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	base = filenameStrip.ReplaceAllString(base, "")
	base = filenameSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	return base + ext
}

// DraftFromImage stores the receipt image, recognizes its text and proposes
// field candidates for the user to confirm. Extraction never fails;
// recognition failures propagate and the stored image is cleaned up.
func (s *Service) DraftFromImage(filename string, data []byte, contentType string) (*Draft, error) {
	id := s.idGenerator.Generate()
	ref, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving image: %w", err)
	}

	rawText, err := s.recognizer.Recognize(data, contentType)
	if err != nil {
		slog.Error("failed to recognize receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		s.storage.Delete(ref)
		return nil, fmt.Errorf("recognizing receipt: %w", err)
	}

	return &Draft{
		Result:   s.extractor.Extract(rawText),
		ImageRef: ref,
	}, nil
}

// Create validates and persists a confirmed record. The local write is
// authoritative; cloud mirroring is best-effort.
func (s *Service) Create(ctx context.Context, rec Record) (*Record, error) {
	now := s.timeSource.Now()
	if rec.ID == "" {
		rec.ID = s.idGenerator.Generate()
	}
	rec.CreatedAt = now
	rec.Touch(now)

	if err := rec.Validate(); err != nil {
		return nil, err
	}

	if err := s.db.SaveRecord(&rec); err != nil {
		return nil, fmt.Errorf("saving record: %w", err)
	}

	s.mirrorToCloud(ctx, &rec, true)
	return &rec, nil
}

// Update applies edits to an existing record, stamping a fresh modification
// time.
func (s *Service) Update(ctx context.Context, rec Record) (*Record, error) {
	existing, err := s.db.GetRecord(rec.ID)
	if err != nil {
		return nil, fmt.Errorf("getting record for update: %w", err)
	}

	rec.CreatedAt = existing.CreatedAt
	rec.Status = existing.Status
	if rec.ImageURL == "" {
		rec.ImageURL = existing.ImageURL
	}
	rec.Touch(s.timeSource.Now())

	if err := rec.Validate(); err != nil {
		return nil, err
	}

	if err := s.db.SaveRecord(&rec); err != nil {
		return nil, fmt.Errorf("saving record: %w", err)
	}

	s.mirrorToCloud(ctx, &rec, false)
	return &rec, nil
}

// Delete tombstones a record in every store so the deletion reconciles
// across replicas.
func (s *Service) Delete(ctx context.Context, id string) error {
	rec, err := s.db.GetRecord(id)
	if err != nil {
		return fmt.Errorf("getting record for deletion: %w", err)
	}

	now := s.timeSource.Now()
	rec.Tombstone(now)

	if err := s.db.SaveRecord(rec); err != nil {
		return fmt.Errorf("saving tombstone: %w", err)
	}

	if s.cloud != nil {
		if s.sess == nil {
			slog.Warn("cloud delete skipped", "error", ErrAuthRequired)
			return nil
		}
		if err := s.cloud.SoftDelete(ctx, s.sess.UserID, id, now); err != nil {
			slog.Warn("cloud delete failed, tombstoned locally only", "id", id, "error", err)
		}
	}
	return nil
}

// mirrorToCloud uploads the image and writes the record to the relational
// backend. Failures degrade to local-only with a warning; the local copy is
// already saved.
func (s *Service) mirrorToCloud(ctx context.Context, rec *Record, insert bool) {
	if s.cloud == nil {
		return
	}
	if s.sess == nil {
		slog.Warn("cloud save skipped", "error", ErrAuthRequired)
		return
	}

	if s.uploader != nil && rec.ImageURL != "" && !strings.HasPrefix(rec.ImageURL, "http") {
		if data, err := s.storage.Get(rec.ImageURL); err == nil {
			if url, err := s.uploader.Upload(ctx, rec.ImageURL, data, s.sess.Token()); err == nil {
				rec.ImageURL = url
				if err := s.db.SaveRecord(rec); err != nil {
					slog.Warn("failed to persist uploaded image URL", "id", rec.ID, "error", err)
				}
			} else {
				slog.Warn("image upload failed, keeping local reference", "id", rec.ID, "error", err)
			}
		}
	}

	var err error
	if insert {
		err = s.cloud.Insert(ctx, s.sess.UserID, rec)
	} else {
		err = s.cloud.Update(ctx, s.sess.UserID, rec)
	}
	if err != nil {
		slog.Warn("cloud save failed, record saved locally only", "id", rec.ID, "error", err)
	}
}

// GetRecord retrieves a record by ID
func (s *Service) GetRecord(id string) (*Record, error) {
	rec, err := s.db.GetRecord(id)
	if err != nil {
		return nil, fmt.Errorf("getting record: %w", err)
	}
	return rec, nil
}

// ListActive returns the active records sorted by date descending.
// Tombstones are filtered out.
func (s *Service) ListActive() ([]Record, error) {
	all, err := s.db.ListRecords()
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}

	active := make([]Record, 0, len(all))
	for _, rec := range all {
		if rec.Status != StatusDeleted {
			active = append(active, rec)
		}
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].Date > active[j].Date
	})
	return active, nil
}

// GetImage retrieves a locally stored receipt image by reference
func (s *Service) GetImage(ref string) ([]byte, error) {
	data, err := s.storage.Get(ref)
	if err != nil {
		return nil, fmt.Errorf("getting image: %w", err)
	}
	return data, nil
}

// ComputeStats summarizes the active records: total for the month containing
// now, overall total and record count.
func (s *Service) ComputeStats() (*Stats, error) {
	active, err := s.ListActive()
	if err != nil {
		return nil, err
	}

	month := s.timeSource.Now().Format("2006-01")
	stats := &Stats{Count: len(active)}
	for _, rec := range active {
		stats.TotalAmount += rec.Amount
		if strings.HasPrefix(rec.Date, month) {
			stats.MonthlyTotal += rec.Amount
		}
	}
	return stats, nil
}

// ExportCSV writes the active records as CSV
func (s *Service) ExportCSV(w io.Writer) error {
	active, err := s.ListActive()
	if err != nil {
		return err
	}
	return WriteCSV(w, active)
}
