package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/search"
	"github.com/conorfennell/knoldeck/internal/store"
)

const cardColumns = `c.id, c.nid, c.did, c.ord, c.mod, c.type, c.queue, c.due, c.ivl, c.factor,
	c.reps, c.lapses, c.left, c.odue, c.odid, c.flags`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (*domain.Card, error) {
	var c domain.Card
	err := row.Scan(
		&c.ID,
		&c.NoteID,
		&c.DeckID,
		&c.Ord,
		&c.Mod,
		&c.Type,
		&c.Queue,
		&c.Due,
		&c.Interval,
		&c.Factor,
		&c.Reps,
		&c.Lapses,
		&c.Left,
		&c.OriginalDue,
		&c.OriginalDeck,
		&c.Flags,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (db *DB) queryCards(ctx context.Context, query string, args ...any) ([]*domain.Card, error) {
	rows, err := db.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []*domain.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card row: %w", err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// Card retrieves a card by id.
func (db *DB) Card(ctx context.Context, id int64) (*domain.Card, error) {
	row := db.q.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards c WHERE c.id = ?`, id)
	c, err := scanCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("card %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find card %d: %w", id, err)
	}
	return c, nil
}

// CardsByID retrieves the cards with the given ids in id order. Missing ids
// are skipped.
func (db *DB) CardsByID(ctx context.Context, ids []int64) ([]*domain.Card, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cards, err := db.queryCards(ctx,
		`SELECT `+cardColumns+` FROM cards c WHERE c.id IN (`+placeholders(len(ids))+`) ORDER BY c.id`,
		int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("failed to get cards by id: %w", err)
	}
	return cards, nil
}

func cardWhere(q store.CardQuery) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if len(q.DeckIDs) > 0 {
		conds = append(conds, "c.did IN ("+placeholders(len(q.DeckIDs))+")")
		args = append(args, int64Args(q.DeckIDs)...)
	}
	if len(q.Queues) > 0 {
		conds = append(conds, "c.queue IN ("+placeholders(len(q.Queues))+")")
		for _, queue := range q.Queues {
			args = append(args, int(queue))
		}
	}
	if q.NoteID != 0 {
		conds = append(conds, "c.nid = ?")
		args = append(args, q.NoteID)
	}
	if q.DueAtMost != nil {
		conds = append(conds, "c.due <= ?")
		args = append(args, *q.DueAtMost)
	}
	if len(q.ExcludeIDs) > 0 {
		conds = append(conds, "c.id NOT IN ("+placeholders(len(q.ExcludeIDs))+")")
		args = append(args, int64Args(q.ExcludeIDs)...)
	}
	if len(conds) == 0 {
		return "1", nil
	}
	return strings.Join(conds, " AND "), args
}

var cardOrders = map[store.CardOrder]string{
	store.ByID:           "c.id",
	store.ByDue:          "c.due, c.ord, c.id",
	store.ByIntervalAsc:  "c.ivl, c.id",
	store.ByIntervalDesc: "c.ivl DESC, c.id",
}

// QueryCards returns the cards matching q.
func (db *DB) QueryCards(ctx context.Context, q store.CardQuery) ([]*domain.Card, error) {
	where, args := cardWhere(q)
	query := `SELECT ` + cardColumns + ` FROM cards c WHERE ` + where + ` ORDER BY ` + cardOrders[q.Order]
	if q.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, q.Limit, q.Offset)
	}
	cards, err := db.queryCards(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	return cards, nil
}

// CountCards returns how many cards match q, ignoring its order and paging.
func (db *DB) CountCards(ctx context.Context, q store.CardQuery) (int, error) {
	where, args := cardWhere(q)
	var n int
	if err := db.q.QueryRowContext(ctx, `SELECT count(*) FROM cards c WHERE `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cards: %w", err)
	}
	return n, nil
}

// filterOrderClause returns the ORDER BY clause for a filtered-deck term.
// Random order is left to the caller, which shuffles with its own source.
func filterOrderClause(order domain.FilterOrder, today int64) (string, []any) {
	switch order {
	case domain.OrderOldestModified:
		return "c.mod, c.id", nil
	case domain.OrderSmallestInterval:
		return "c.ivl, c.id", nil
	case domain.OrderLargestInterval:
		return "c.ivl DESC, c.id", nil
	case domain.OrderMostLapses:
		return "c.lapses DESC, c.id", nil
	case domain.OrderAdded:
		return "n.id, c.ord", nil
	case domain.OrderDuePriority:
		return `CASE WHEN c.queue = 2 AND c.due <= ? THEN c.ivl / CAST(? - c.due + 0.001 AS REAL)
			ELSE 100000 + c.due END, c.id`, []any{today, today}
	case domain.OrderDue:
		return "c.due, c.ord, c.id", nil
	}
	return "c.id", nil
}

// SearchCards returns the cards matching a search expression. Random order
// returns every match in id order and ignores the limit.
func (db *DB) SearchCards(ctx context.Context, s store.CardSearch) ([]*domain.Card, error) {
	where, args, err := search.Compile(s.Expr, search.Context{Today: s.Today, Now: s.Now})
	if err != nil {
		return nil, err
	}
	order, orderArgs := filterOrderClause(s.Order, s.Today)
	query := `SELECT ` + cardColumns + ` FROM cards c JOIN notes n ON n.id = c.nid WHERE ` + where + ` ORDER BY ` + order
	args = append(args, orderArgs...)
	if s.Limit > 0 && s.Order != domain.OrderRandom {
		query += ` LIMIT ?`
		args = append(args, s.Limit)
	}
	cards, err := db.queryCards(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search cards %q: %w", s.Expr, err)
	}
	return cards, nil
}

// UpdateCards writes every scheduling field of the given cards.
func (db *DB) UpdateCards(ctx context.Context, cards ...*domain.Card) error {
	for _, c := range cards {
		_, err := db.q.ExecContext(ctx, `
			UPDATE cards
			SET did = ?, ord = ?, mod = ?, type = ?, queue = ?, due = ?, ivl = ?, factor = ?,
				reps = ?, lapses = ?, left = ?, odue = ?, odid = ?, flags = ?
			WHERE id = ?
		`,
			c.DeckID,
			c.Ord,
			c.Mod,
			int(c.Type),
			int(c.Queue),
			c.Due,
			c.Interval,
			c.Factor,
			c.Reps,
			c.Lapses,
			c.Left,
			c.OriginalDue,
			c.OriginalDeck,
			c.Flags,
			c.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update card %d: %w", c.ID, err)
		}
	}
	return nil
}

// AddRevlog appends a review log entry. Entries logged within the same
// millisecond are shifted forward so ids stay unique; entry.ID is updated.
func (db *DB) AddRevlog(ctx context.Context, e *domain.RevlogEntry) error {
	var last sql.NullInt64
	if err := db.q.QueryRowContext(ctx, `SELECT max(id) FROM revlog`).Scan(&last); err != nil {
		return fmt.Errorf("failed to read last revlog id: %w", err)
	}
	if last.Valid && e.ID <= last.Int64 {
		e.ID = last.Int64 + 1
	}
	_, err := db.q.ExecContext(ctx, `
		INSERT INTO revlog (id, cid, ease, ivl, last_ivl, factor, time, type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.CardID, int(e.Ease), e.Interval, e.LastInterval, e.Factor, e.Taken.Milliseconds(), int(e.Kind))
	if err != nil {
		return fmt.Errorf("failed to insert revlog for card %d: %w", e.CardID, err)
	}
	return nil
}

// RemoveRevlog deletes revlog entries by id.
func (db *DB) RemoveRevlog(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := db.q.ExecContext(ctx, `DELETE FROM revlog WHERE id IN (`+placeholders(len(ids))+`)`, int64Args(ids)...)
	if err != nil {
		return fmt.Errorf("failed to delete revlog entries: %w", err)
	}
	return nil
}

// Revlog returns the review history of a card, oldest first.
func (db *DB) Revlog(ctx context.Context, cardID int64) ([]*domain.RevlogEntry, error) {
	rows, err := db.q.QueryContext(ctx, `
		SELECT id, cid, ease, ivl, last_ivl, factor, time, type
		FROM revlog WHERE cid = ? ORDER BY id
	`, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to get revlog for card %d: %w", cardID, err)
	}
	defer rows.Close()

	var entries []*domain.RevlogEntry
	for rows.Next() {
		var (
			e     domain.RevlogEntry
			taken int64
		)
		if err := rows.Scan(&e.ID, &e.CardID, &e.Ease, &e.Interval, &e.LastInterval, &e.Factor, &taken, &e.Kind); err != nil {
			return nil, fmt.Errorf("failed to scan revlog row: %w", err)
		}
		e.Taken = time.Duration(taken) * time.Millisecond
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
