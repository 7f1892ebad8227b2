package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/store"
)

func joinTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return " " + strings.Join(tags, " ") + " "
}

func splitTags(s string) []string {
	return strings.Fields(s)
}

const noteColumns = `id, guid, source_id, question, answer, context, deck, tags, mod`

func scanNote(row rowScanner) (*domain.Note, error) {
	var (
		n        domain.Note
		sourceID sql.NullInt64
		tags     string
	)
	if err := row.Scan(&n.ID, &n.GUID, &sourceID, &n.Question, &n.Answer, &n.Context, &n.Deck, &tags, &n.Mod); err != nil {
		return nil, err
	}
	n.SourceID = sourceID.Int64
	n.Tags = splitTags(tags)
	return &n, nil
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

// Note retrieves a note by id.
func (db *DB) Note(ctx context.Context, id int64) (*domain.Note, error) {
	n, err := scanNote(db.q.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("note %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find note %d: %w", id, err)
	}
	return n, nil
}

// NoteByGUID retrieves a note by its content hash. It returns (nil, nil)
// when no note matches.
func (db *DB) NoteByGUID(ctx context.Context, guid string) (*domain.Note, error) {
	n, err := scanNote(db.q.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE guid = ?`, guid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find note by guid %s: %w", guid, err)
	}
	return n, nil
}

// SaveNote updates a note's fields and tags.
func (db *DB) SaveNote(ctx context.Context, n *domain.Note) error {
	_, err := db.q.ExecContext(ctx, `
		UPDATE notes SET guid = ?, source_id = ?, question = ?, answer = ?, context = ?, deck = ?, tags = ?, mod = ?
		WHERE id = ?
	`, n.GUID, nullableID(n.SourceID), n.Question, n.Answer, n.Context, n.Deck, joinTags(n.Tags), n.Mod, n.ID)
	if err != nil {
		return fmt.Errorf("failed to update note %d: %w", n.ID, err)
	}
	return nil
}

// AddNote inserts a note and realizes its cards as new cards in deckID,
// taking the collection's next new-card position. It returns the new cards.
func (db *DB) AddNote(ctx context.Context, n *domain.Note, deckID int64) ([]*domain.Card, error) {
	var cards []*domain.Card
	err := db.withTx(ctx, func(tx *DB) error {
		col, err := tx.Collection(ctx)
		if err != nil {
			return err
		}
		res, err := tx.q.ExecContext(ctx, `
			INSERT INTO notes (guid, source_id, question, answer, context, deck, tags, mod)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, n.GUID, nullableID(n.SourceID), n.Question, n.Answer, n.Context, n.Deck, joinTags(n.Tags), n.Mod)
		if err != nil {
			return fmt.Errorf("failed to insert note %s: %w", n.GUID, err)
		}
		if n.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert ID for note %s: %w", n.GUID, err)
		}

		for _, ord := range n.TemplateOrds() {
			c := &domain.Card{
				NoteID: n.ID,
				DeckID: deckID,
				Ord:    ord,
				Mod:    n.Mod,
				Type:   domain.TypeNew,
				Queue:  domain.QueueNew,
				Due:    col.NextPosition,
			}
			res, err := tx.q.ExecContext(ctx, `
				INSERT INTO cards (nid, did, ord, mod, type, queue, due)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, c.NoteID, c.DeckID, c.Ord, c.Mod, int(c.Type), int(c.Queue), c.Due)
			if err != nil {
				return fmt.Errorf("failed to insert card for note %d: %w", n.ID, err)
			}
			if c.ID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("failed to get last insert ID for card: %w", err)
			}
			cards = append(cards, c)
		}

		col.NextPosition++
		return tx.SaveCollection(ctx, col)
	})
	if err != nil {
		return nil, err
	}
	return cards, nil
}

// NotesBySource returns every note ingested from a source.
func (db *DB) NotesBySource(ctx context.Context, sourceID int64) ([]*domain.Note, error) {
	rows, err := db.q.QueryContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE source_id = ? ORDER BY id`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get notes for source ID %d: %w", sourceID, err)
	}
	defer rows.Close()

	var notes []*domain.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note row for source ID %d: %w", sourceID, err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// RemoveNotes deletes notes and their cards. Review history is kept.
func (db *DB) RemoveNotes(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	return db.withTx(ctx, func(tx *DB) error {
		in := placeholders(len(ids))
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM cards WHERE nid IN (`+in+`)`, int64Args(ids)...); err != nil {
			return fmt.Errorf("failed to delete cards of notes: %w", err)
		}
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM notes WHERE id IN (`+in+`)`, int64Args(ids)...); err != nil {
			return fmt.Errorf("failed to delete notes: %w", err)
		}
		return nil
	})
}

// Source represents a note source, either a local path or a Git URL.
type Source struct {
	ID          int64     `json:"id"`
	Path        string    `json:"path"`
	Type        string    `json:"type"`
	LastScanned time.Time `json:"lastScanned"`
}

// InsertSource inserts a new source and returns its ID.
func (db *DB) InsertSource(ctx context.Context, path, sourceType string) (int64, error) {
	res, err := db.q.ExecContext(ctx, `INSERT INTO sources (path, type) VALUES (?, ?)`, path, sourceType)
	if err != nil {
		return 0, fmt.Errorf("failed to insert source %s: %w", path, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for source %s: %w", path, err)
	}
	return id, nil
}

func scanSource(row rowScanner) (*Source, error) {
	var (
		s       Source
		scanned sql.NullInt64
	)
	if err := row.Scan(&s.ID, &s.Path, &s.Type, &scanned); err != nil {
		return nil, err
	}
	if scanned.Valid {
		s.LastScanned = time.Unix(scanned.Int64, 0)
	}
	return &s, nil
}

// FindSourceByPath retrieves a source by its path. It returns (nil, nil)
// when no source matches.
func (db *DB) FindSourceByPath(ctx context.Context, path string) (*Source, error) {
	s, err := scanSource(db.q.QueryRowContext(ctx, `SELECT id, path, type, last_scanned FROM sources WHERE path = ?`, path))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find source by path %s: %w", path, err)
	}
	return s, nil
}

// Sources retrieves all stored sources.
func (db *DB) Sources(ctx context.Context) ([]Source, error) {
	rows, err := db.q.QueryContext(ctx, `SELECT id, path, type, last_scanned FROM sources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, *s)
	}
	return sources, rows.Err()
}

// UpdateSourceLastScanned records when a source was last reconciled.
func (db *DB) UpdateSourceLastScanned(ctx context.Context, sourceID int64, at time.Time) error {
	_, err := db.q.ExecContext(ctx, `UPDATE sources SET last_scanned = ? WHERE id = ?`, at.Unix(), sourceID)
	if err != nil {
		return fmt.Errorf("failed to update last scanned for source ID %d: %w", sourceID, err)
	}
	return nil
}

// RemoveSource deletes a source together with the notes and cards it produced.
func (db *DB) RemoveSource(ctx context.Context, sourceID int64) error {
	return db.withTx(ctx, func(tx *DB) error {
		notes, err := tx.NotesBySource(ctx, sourceID)
		if err != nil {
			return err
		}
		ids := make([]int64, len(notes))
		for i, n := range notes {
			ids[i] = n.ID
		}
		if err := tx.RemoveNotes(ctx, ids...); err != nil {
			return err
		}
		res, err := tx.q.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, sourceID)
		if err != nil {
			return fmt.Errorf("failed to delete source %d: %w", sourceID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("source %d: %w", sourceID, store.ErrNotFound)
		}
		return nil
	})
}
