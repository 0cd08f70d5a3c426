// Package hardlink implements the Hardlink Service (C11): materialises a
// rename plan as hardlinks under the configured library root, enforcing
// idempotent dedup and bounded concurrent fan-out across a torrent's
// independent files.
package hardlink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/1morr/anidown/internal/apperr"
	"github.com/1morr/anidown/internal/domain"
	"github.com/1morr/anidown/internal/domain/ports"
	"github.com/1morr/anidown/internal/metrics"
	"github.com/1morr/anidown/internal/pathconv"
)

// DirMode is the mode used for parent directories created under the
// library root.
const DirMode = 0o775

// Roots maps (media type x category) to a library root path.
type Roots struct {
	AnimeTV           string
	AnimeMovie        string
	LiveActionTV      string
	LiveActionMovie   string
}

func (r Roots) For(mediaType domain.MediaType, category domain.Category) string {
	switch {
	case mediaType == domain.MediaLiveAction && category == domain.CategoryMovie:
		return r.LiveActionMovie
	case mediaType == domain.MediaLiveAction:
		return r.LiveActionTV
	case category == domain.CategoryMovie:
		return r.AnimeMovie
	default:
		return r.AnimeTV
	}
}

// FileOutcome reports what happened to one rename-plan entry.
type FileOutcome struct {
	SourcePath string
	TargetPath string
	Linked     bool // a new hardlink was created
	AlreadyLinked bool // idempotent no-op: the row already existed
	Skipped    bool
	Err        error
}

// DefaultConcurrency bounds per-torrent concurrent link creation.
const DefaultConcurrency = 8

type Service struct {
	Repo        ports.HardlinkRepository
	Roots       Roots
	PathConv    pathconv.Converter
	Concurrency int64
	Logger      *slog.Logger

	now func() time.Time
}

func New(repo ports.HardlinkRepository, roots Roots, conv pathconv.Converter, logger *slog.Logger) *Service {
	return &Service{
		Repo:        repo,
		Roots:       roots,
		PathConv:    conv,
		Concurrency: DefaultConcurrency,
		Logger:      logger,
		now:         time.Now,
	}
}

// Materialize creates hardlinks for every non-skipped entry of plan,
// sourced from sourceRoot (the downloader's reported save_path for this
// torrent) into the library root selected by mediaType/category. It
// returns one FileOutcome per plan entry and is safe to call twice for the
// same torrent: already-created links are idempotent no-ops.
func (s *Service) Materialize(ctx context.Context, torrentHash, animeID string, mediaType domain.MediaType, category domain.Category, sourceRoot string, plan domain.RenamePlan) ([]FileOutcome, error) {
	libraryRoot := s.Roots.For(mediaType, category)
	if libraryRoot == "" {
		return nil, apperr.New(apperr.KindValidation, "no library root configured", apperr.Ctx{"media_type": mediaType, "category": category})
	}

	concurrency := s.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	sem := semaphore.NewWeighted(concurrency)
	g, gctx := errgroup.WithContext(ctx)

	outcomes := make([]FileOutcome, len(plan.Entries))

	for i, entry := range plan.Entries {
		i, entry := i, entry
		if entry.Skipped {
			outcomes[i] = FileOutcome{SourcePath: entry.SourcePath, Skipped: true}
			continue
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			outcome := s.linkOne(gctx, torrentHash, animeID, sourceRoot, libraryRoot, entry)
			switch {
			case outcome.Err != nil:
				reason := "unknown"
				if kind, ok := apperr.KindOf(outcome.Err); ok {
					reason = string(kind)
				}
				metrics.HardlinkFailuresTotal.WithLabelValues(reason).Inc()
			case outcome.Linked:
				metrics.HardlinksCreatedTotal.Inc()
			}
			outcomes[i] = outcome
			return nil // per-file errors are carried in outcome, never fail the group
		})
	}

	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

func (s *Service) linkOne(ctx context.Context, torrentHash, animeID, sourceRoot, libraryRoot string, entry domain.RenamePlanEntry) FileOutcome {
	sourcePath := s.PathConv.Convert(filepath.Join(sourceRoot, entry.SourcePath))
	targetPath := pathconv.Normalize(filepath.Join(libraryRoot, filepath.FromSlash(entry.TargetRelativePath)))

	outcome := FileOutcome{SourcePath: sourcePath, TargetPath: targetPath}

	exists, err := s.Repo.Exists(ctx, torrentHash, sourcePath, targetPath)
	if err != nil {
		outcome.Err = fmt.Errorf("hardlink: check existing row: %w", err)
		return outcome
	}
	if exists {
		outcome.AlreadyLinked = true
		return outcome
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), DirMode); err != nil {
		outcome.Err = apperr.Wrap(apperr.KindFilesystemFault, "mkdir target parent", err, apperr.Ctx{"hash_id": torrentHash})
		return outcome
	}

	if err := os.Link(sourcePath, targetPath); err != nil {
		if errors.Is(err, os.ErrExist) {
			// A file already occupies this target path and no row of ours
			// records it (checked above): that's a name collision, never
			// silently overwritten. The existing file's inode is not
			// compared with the source's, so a matching link left behind
			// without a row is reported the same way.
			outcome.Err = apperr.New(apperr.KindFilesystemFault, "target path already occupied by a different file", apperr.Ctx{"hash_id": torrentHash, "target": targetPath})
			return outcome
		}
		if errors.Is(err, syscall.EXDEV) {
			outcome.Err = apperr.Wrap(apperr.KindFilesystemFault, "cross-device link rejected by filesystem", err, apperr.Ctx{"hash_id": torrentHash})
			return outcome
		}
		outcome.Err = apperr.Wrap(apperr.KindFilesystemFault, "create hardlink", err, apperr.Ctx{"hash_id": torrentHash})
		return outcome
	}

	size := int64(0)
	if fi, statErr := os.Stat(targetPath); statErr == nil {
		size = fi.Size()
	}

	if err := s.Repo.Insert(ctx, domain.Hardlink{
		TorrentHash:      torrentHash,
		AnimeID:          animeID,
		OriginalFilePath: sourcePath,
		HardlinkPath:     targetPath,
		FileSize:         size,
		CreatedAt:        s.now(),
	}); err != nil {
		outcome.Err = fmt.Errorf("hardlink: insert row: %w", err)
		return outcome
	}

	outcome.Linked = true
	return outcome
}

// Remove walks every Hardlink row for torrentHash and unlinks the
// filesystem entry; a file already removed is tolerated, not an error.
func (s *Service) Remove(ctx context.Context, torrentHash string) error {
	rows, err := s.Repo.ListByTorrent(ctx, torrentHash)
	if err != nil {
		return fmt.Errorf("hardlink: list rows for removal: %w", err)
	}
	for _, row := range rows {
		if err := os.Remove(row.HardlinkPath); err != nil && !os.IsNotExist(err) {
			if s.Logger != nil {
				s.Logger.Warn("hardlink: unlink failed", slog.String("hash_id", torrentHash), slog.String("path", row.HardlinkPath), slog.Any("error", err))
			}
		}
	}
	return s.Repo.DeleteByTorrent(ctx, torrentHash)
}

// Archived reports whether every outcome is a success (linked, idempotent,
// or deliberately skipped) — the precondition for the torrent's overall
// state to become archived.
func Archived(outcomes []FileOutcome) bool {
	for _, o := range outcomes {
		if o.Err != nil {
			return false
		}
	}
	return true
}
