package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orrn/printdesk/internal/core"
)

var (
	ErrNotFound       = errors.New("staged file not found")
	ErrInvalidOwnerID = errors.New("invalid owner id")
)

// stagedSuffix matches the part of a staged name after "{ownerId}_".
var stagedSuffix = regexp.MustCompile(`^(\d+)-([0-9a-f]+)_(.+)$`)

type Config struct {
	Dir               string
	MaxFileSize       int64
	AllowedExtensions []string
	Retention         time.Duration
	SweepInterval     time.Duration
}

// Store keeps uploaded files on local disk until they migrate or expire.
// Names follow {ownerId}_{timestampMs}-{random}_{originalFileName}.
type Store struct {
	dir        string
	maxSize    int64
	allowed    map[string]bool
	retention  time.Duration
	interval   time.Duration
	logger     *zap.Logger
	now        func() time.Time
	stopCh     chan struct{}
	sweepDoneC chan struct{}
}

func NewStore(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("staging dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	allowed := make(map[string]bool, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = true
	}

	return &Store{
		dir:       cfg.Dir,
		maxSize:   cfg.MaxFileSize,
		allowed:   allowed,
		retention: cfg.Retention,
		interval:  cfg.SweepInterval,
		logger:    logger.Named("staging"),
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Stage writes r to a new collision-free file and returns its path and size.
// Oversized content is rejected with core.ErrFileTooLarge and leaves nothing behind.
func (s *Store) Stage(ownerID string, r io.Reader, originalName string) (string, int64, error) {
	if err := validateOwnerID(ownerID); err != nil {
		return "", 0, err
	}

	name := sanitizeName(originalName)
	if name == "" {
		return "", 0, fmt.Errorf("%w: empty file name", core.ErrUnsupportedFormat)
	}
	ext := strings.ToLower(filepath.Ext(name))
	if len(s.allowed) > 0 && !s.allowed[ext] {
		return "", 0, fmt.Errorf("%w: %q", core.ErrUnsupportedFormat, ext)
	}

	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	stagedName := fmt.Sprintf("%s_%d-%s_%s", ownerID, s.now().UnixMilli(), random, name)
	path := filepath.Join(s.dir, stagedName)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create staged file: %w", err)
	}

	src := r
	if s.maxSize > 0 {
		src = io.LimitReader(r, s.maxSize+1)
	}
	written, copyErr := io.Copy(f, src)
	closeErr := f.Close()

	switch {
	case copyErr != nil:
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("failed to write staged file: %w", copyErr)
	case closeErr != nil:
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("failed to close staged file: %w", closeErr)
	case s.maxSize > 0 && written > s.maxSize:
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("%w: limit is %d bytes", core.ErrFileTooLarge, s.maxSize)
	}

	s.logger.Debug("staged upload",
		zap.String("owner_id", ownerID),
		zap.String("path", path),
		zap.Int64("bytes", written))
	return path, written, nil
}

func (s *Store) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Delete removes a staged file; a missing file is not an error.
func (s *Store) Delete(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete staged file: %w", err)
	}
	return nil
}

// Resolve finds a staged file for ownerID. name is tried as an exact staged name first,
// then as the original file name under the owner's prefix (newest wins). The owner
// prefix is verified before any path is returned.
func (s *Store) Resolve(ownerID, name string) (string, error) {
	if err := validateOwnerID(ownerID); err != nil {
		return "", err
	}
	base := filepath.Base(name)

	exact := filepath.Join(s.dir, base)
	if s.Exists(exact) {
		if !OwnedBy(base, ownerID) {
			return "", core.ErrNotOwner
		}
		return exact, nil
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "", fmt.Errorf("failed to read staging directory: %w", err)
	}

	var (
		best   string
		bestTS string
	)
	prefix := ownerID + "_"
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		m := stagedSuffix.FindStringSubmatch(strings.TrimPrefix(e.Name(), prefix))
		if m == nil || m[3] != base {
			continue
		}
		if best == "" || len(m[1]) > len(bestTS) || (len(m[1]) == len(bestTS) && m[1] > bestTS) {
			best, bestTS = e.Name(), m[1]
		}
	}
	if best == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, base)
	}
	return filepath.Join(s.dir, best), nil
}

// OwnedBy reports whether stagedName carries ownerID as its verified prefix.
func OwnedBy(stagedName, ownerID string) bool {
	prefix := ownerID + "_"
	if validateOwnerID(ownerID) != nil || !strings.HasPrefix(stagedName, prefix) {
		return false
	}
	return stagedSuffix.MatchString(strings.TrimPrefix(stagedName, prefix))
}

// Sweep removes staged files older than the retention window regardless of job state.
func (s *Store) Sweep(ctx context.Context) (removed int, err error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read staging directory: %w", err)
	}

	cutoff := s.now().Add(-s.retention)
	for _, entry := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if entry.IsDir() {
			continue
		}
		info, infoErr := entry.Info()
		if infoErr != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			s.logger.Warn("failed to remove stale staged file",
				zap.String("path", path), zap.Error(rmErr))
			continue
		}
		removed++
		s.logger.Info("removed stale staged file",
			zap.String("path", path),
			zap.Duration("age", s.now().Sub(info.ModTime())))
	}
	return removed, nil
}

func (s *Store) Start(ctx context.Context) {
	s.sweepDoneC = make(chan struct{})
	go func() {
		defer close(s.sweepDoneC)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				if _, err := s.Sweep(ctx); err != nil {
					s.logger.Warn("staging sweep failed", zap.Error(err))
				}
			}
		}
	}()
}

func (s *Store) Stop() {
	close(s.stopCh)
	if s.sweepDoneC != nil {
		<-s.sweepDoneC
	}
}

// validateOwnerID rejects ids that could escape the staging directory or blur the
// "{ownerId}_" prefix of a staged name.
func validateOwnerID(ownerID string) error {
	if ownerID == "" || strings.ContainsAny(ownerID, `/\_`) || ownerID == "." || ownerID == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidOwnerID, ownerID)
	}
	return nil
}

func sanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == ' ':
			return '_'
		case r < 0x20, r == 0x7f:
			return -1
		}
		return r
	}, name)
}
