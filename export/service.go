// Package export materializes a user's leads into downloadable files.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/use-agent/leadscout/models"
	"github.com/use-agent/leadscout/store"
)

// Request asks for one export. JobID is optional.
type Request struct {
	UserID string
	JobID  string
	Format string
}

// Service writes export files and records them.
type Service struct {
	store *store.Store
	dir   string
	now   func() time.Time
}

// NewService creates the export directory if needed.
func NewService(st *store.Store, dir string) (*Service, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("export: create dir: %w", err)
	}
	return &Service{store: st, dir: dir, now: time.Now}, nil
}

// Create exports the user's leads, optionally only those first captured by
// req.JobID. The artifact and its record appear together or not at all.
func (s *Service) Create(ctx context.Context, req Request) (*models.Export, error) {
	start := time.Now()

	format := strings.ToLower(strings.TrimSpace(req.Format))
	write, ok := writers[format]
	if !ok {
		return nil, models.NewScrapeError(models.ErrCodeUnsupportedFormat,
			fmt.Sprintf("unsupported export format %q (use csv, json or xlsx)", req.Format), nil)
	}

	var jobID *string
	if req.JobID != "" {
		job, err := s.store.GetJob(ctx, req.JobID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && job.UserID != req.UserID) {
			return nil, models.NewScrapeError(models.ErrCodeNotFound, "job not found", nil)
		}
		if err != nil {
			return nil, err
		}
		jobID = &job.ID
	}

	leads, err := s.store.ListLeads(ctx, models.LeadFilter{UserID: req.UserID, JobID: req.JobID})
	if err != nil {
		return nil, fmt.Errorf("export: query leads: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".export-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("export: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if err := write(tmp, leads); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("export: write %s: %w", format, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("export: close temp file: %w", err)
	}

	e := &models.Export{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		JobID:       jobID,
		Format:      format,
		RecordCount: len(leads),
	}
	e.FilePath = filepath.Join(s.dir, e.ID+"."+format)

	renamed := false
	err = s.store.CreateExport(ctx, e, s.now().UTC().Format("2006-01"), func() error {
		if err := os.Rename(tmpName, e.FilePath); err != nil {
			return fmt.Errorf("export: publish file: %w", err)
		}
		renamed = true
		return nil
	})
	if err != nil {
		if renamed {
			_ = os.Remove(e.FilePath)
		}
		switch {
		case errors.Is(err, store.ErrQuotaExceeded):
			return nil, models.NewScrapeError(models.ErrCodeQuotaExceeded, "monthly export quota exceeded", err)
		case errors.Is(err, store.ErrNotFound):
			return nil, models.NewScrapeError(models.ErrCodeNotFound, "user not found", err)
		}
		return nil, err
	}

	slog.Info("export created",
		"export_id", e.ID,
		"user_id", e.UserID,
		"format", format,
		"records", e.RecordCount,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return e, nil
}

// Get returns the export if userID owns it.
func (s *Service) Get(ctx context.Context, userID, id string) (*models.Export, error) {
	e, err := s.store.GetExport(ctx, userID, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, models.NewScrapeError(models.ErrCodeNotFound, "export not found", nil)
	}
	return e, err
}

// List returns the user's exports, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]models.Export, error) {
	return s.store.ListExports(ctx, userID)
}

// Open returns the export's metadata and an open handle on its file. The
// caller closes the file.
func (s *Service) Open(ctx context.Context, userID, id string) (*models.Export, *os.File, error) {
	e, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(e.FilePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, models.NewScrapeError(models.ErrCodeNotFound, "export file is missing", err)
	}
	if err != nil {
		return nil, nil, err
	}
	return e, f, nil
}
