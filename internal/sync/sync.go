// Package sync reconciles note sources with the collection. Markdown files
// under a local directory, or a git repository cloned into the repos
// directory, are parsed into notes; new notes get new cards and notes whose
// content vanished are deleted along with their cards.
package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/gitsource"
	"github.com/conorfennell/knoldeck/internal/knol"
	"github.com/conorfennell/knoldeck/internal/parser"
	"github.com/conorfennell/knoldeck/internal/sched"
	"github.com/conorfennell/knoldeck/internal/storage"
)

// Source types stored in the sources table.
const (
	SourceLocal = "local"
	SourceGit   = "git"
)

// Options configures a Syncer. Zero values select the defaults.
type Options struct {
	ReposDir     string
	ParseWorkers int
	Clock        func() time.Time
	Logger       *slog.Logger
}

// Syncer ingests note sources into the collection. Writes happen inside
// the session's exclusive section so no answer interleaves with them.
type Syncer struct {
	db      *storage.DB
	session *sched.Session
	opts    Options
	log     *slog.Logger
}

// Report summarizes one source reconciliation.
type Report struct {
	SourceID int64    `json:"sourceId"`
	Path     string   `json:"path"`
	Parsed   int      `json:"parsed"`
	Added    int      `json:"added"`
	Updated  int      `json:"updated"`
	Removed  int      `json:"removed"`
	Errors   []string `json:"errors,omitempty"`
}

// New returns a Syncer writing through db under session's lock.
func New(db *storage.DB, session *sched.Session, opts Options) *Syncer {
	if opts.ReposDir == "" {
		opts.ReposDir = "repos"
	}
	if opts.ParseWorkers < 1 {
		opts.ParseWorkers = 4
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Syncer{db: db, session: session, opts: opts, log: log}
}

// AddSource registers a local directory or git URL. Local paths are stored
// absolute. Adding a path twice returns the existing source.
func (s *Syncer) AddSource(ctx context.Context, path string) (*storage.Source, error) {
	sourceType := SourceLocal
	if gitsource.IsGitURL(path) {
		sourceType = SourceGit
	} else {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to add source %s: %w", path, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("failed to add source %s: not a directory", path)
		}
		path = abs
	}

	existing, err := s.db.FindSourceByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.log.Info("Source already exists", "id", existing.ID, "path", path)
		return existing, nil
	}

	id, err := s.db.InsertSource(ctx, path, sourceType)
	if err != nil {
		return nil, err
	}
	s.log.Info("Source added", "id", id, "type", sourceType, "path", path)
	return &storage.Source{ID: id, Path: path, Type: sourceType}, nil
}

// RemoveSource deletes a source and every note and card it produced.
func (s *Syncer) RemoveSource(ctx context.Context, id int64) error {
	return s.session.Exclusive(ctx, func(ctx context.Context, _ sched.DeckCreator) error {
		return s.db.RemoveSource(ctx, id)
	})
}

// Sources lists the registered sources.
func (s *Syncer) Sources(ctx context.Context) ([]storage.Source, error) {
	return s.db.Sources(ctx)
}

// RunAll reconciles every source in turn. A failing source is reported and
// the rest still run; only a cancelled context stops the loop.
func (s *Syncer) RunAll(ctx context.Context) ([]Report, error) {
	s.log.Info("Starting sync process for all sources...")
	sources, err := s.db.Sources(ctx)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		s.log.Info("No sources configured. Add one with: knoldeck add-source <path/or/url.git>")
		return nil, nil
	}

	reports := make([]Report, 0, len(sources))
	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		report, err := s.SyncSource(ctx, source)
		if err != nil {
			s.log.Error("Error syncing source", "id", source.ID, "path", source.Path, "error", err)
			report.Errors = append(report.Errors, err.Error())
		}
		reports = append(reports, report)
	}
	s.log.Info("Sync process complete.", "sources", len(sources))
	return reports, nil
}

// SyncSource reconciles one source, pulling it first when it is a git URL.
func (s *Syncer) SyncSource(ctx context.Context, source storage.Source) (Report, error) {
	report := Report{SourceID: source.ID, Path: source.Path}
	s.log.Info("Syncing source", "id", source.ID, "type", source.Type, "path", source.Path)

	dir := source.Path
	switch source.Type {
	case SourceLocal:
	case SourceGit:
		local, err := gitsource.LocalPath(s.opts.ReposDir, source.Path)
		if err != nil {
			return report, err
		}
		if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
			return report, fmt.Errorf("failed to create repos directory: %w", err)
		}
		if err := gitsource.Sync(ctx, source.Path, local, s.log); err != nil {
			return report, err
		}
		dir = local
	default:
		return report, fmt.Errorf("unknown source type %q", source.Type)
	}

	return s.reconcile(ctx, source, dir, report)
}

// parsed is the outcome of parsing one file.
type parsed struct {
	notes []domain.Note
	err   error
}

// parseDir parses every markdown file under dir with a bounded number of
// workers. Results keep walk order so duplicate content resolves the same
// way on every run.
func (s *Syncer) parseDir(ctx context.Context, dir string) ([]domain.Note, []error, error) {
	var files []string
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if !d.IsDir() && isMarkdown(path) {
			files = append(files, path)
		}
		return nil
	})
	if walkErr != nil {
		return nil, nil, fmt.Errorf("error walking directory %s: %w", dir, walkErr)
	}

	results := make([]parsed, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.ParseWorkers)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			notes, err := parser.ParseFile(path)
			if err != nil {
				err = fmt.Errorf("parsing %s: %w", path, err)
			}
			results[i] = parsed{notes: notes, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var (
		notes  []domain.Note
		errs   []error
		hashes = make(map[string]bool)
	)
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		knol.Assign(r.notes)
		for _, n := range r.notes {
			if hashes[n.GUID] {
				continue
			}
			hashes[n.GUID] = true
			notes = append(notes, n)
		}
	}
	return notes, errs, nil
}

func isMarkdown(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".md")
}

func (s *Syncer) reconcile(ctx context.Context, source storage.Source, dir string, report Report) (Report, error) {
	notes, parseErrs, err := s.parseDir(ctx, dir)
	if err != nil {
		return report, err
	}
	report.Parsed = len(notes)
	for _, e := range parseErrs {
		s.log.Warn("Failed to parse file", "error", e)
		report.Errors = append(report.Errors, e.Error())
	}

	now := s.opts.Clock()
	err = s.session.Exclusive(ctx, func(ctx context.Context, dc sched.DeckCreator) error {
		existing, err := s.db.NotesBySource(ctx, source.ID)
		if err != nil {
			return err
		}
		byGUID := make(map[string]*domain.Note, len(existing))
		for _, n := range existing {
			byGUID[n.GUID] = n
		}

		found := make(map[string]bool, len(notes))
		for _, n := range notes {
			found[n.GUID] = true
			if old, ok := byGUID[n.GUID]; ok {
				// The leech tag is set by the scheduler, not the file.
				if old.HasTag(domain.LeechTag) {
					n.AddTag(domain.LeechTag)
				}
				if old.Deck == n.Deck && equalTags(old.Tags, n.Tags) {
					continue
				}
				old.Deck, old.Tags, old.Mod = n.Deck, n.Tags, now.Unix()
				if err := s.db.SaveNote(ctx, old); err != nil {
					return err
				}
				report.Updated++
				continue
			}

			other, err := s.db.NoteByGUID(ctx, n.GUID)
			if err != nil {
				return err
			}
			if other != nil {
				s.log.Debug("Note already ingested from another source", "guid", n.GUID, "source_id", other.SourceID)
				continue
			}

			deckID, err := s.deckFor(ctx, dc, n.Deck)
			if err != nil {
				return err
			}
			n.SourceID = source.ID
			n.Mod = now.Unix()
			if _, err := s.db.AddNote(ctx, &n, deckID); err != nil {
				return fmt.Errorf("db insert for %s: %w", n.GUID, err)
			}
			s.log.Debug("New note found, inserted", "guid", n.GUID, "deck_id", deckID)
			report.Added++
		}

		var orphans []int64
		for _, n := range existing {
			if !found[n.GUID] {
				orphans = append(orphans, n.ID)
			}
		}
		if err := s.db.RemoveNotes(ctx, orphans...); err != nil {
			return err
		}
		report.Removed = len(orphans)

		return s.db.UpdateSourceLastScanned(ctx, source.ID, now)
	})
	if err != nil {
		return report, err
	}

	s.log.Info("reconciliation complete",
		"path", dir,
		"parsed_notes", report.Parsed,
		"added", report.Added,
		"updated", report.Updated,
		"orphaned_deleted", report.Removed,
		"errors", len(report.Errors),
	)
	return report, nil
}

// deckFor resolves a note's deck name, creating the deck when needed. Notes
// without a usable deck land in the default deck.
func (s *Syncer) deckFor(ctx context.Context, dc sched.DeckCreator, name string) (int64, error) {
	if name == "" {
		return domain.DefaultDeckID, nil
	}
	id, err := dc.CreateDeck(ctx, name)
	if err == nil {
		return id, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, err
	}
	s.log.Warn("Cannot use deck, falling back to the default deck", "deck", name, "error", err)
	return domain.DefaultDeckID, nil
}

func equalTags(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}
