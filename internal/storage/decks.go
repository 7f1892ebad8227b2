package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/store"
)

// Decks returns every deck ordered by name.
func (db *DB) Decks(ctx context.Context) ([]*domain.Deck, error) {
	rows, err := db.q.QueryContext(ctx, `
		SELECT id, name, filtered, conf_id, new_day, new_today, rev_day, rev_today, lrn_day, lrn_today,
			new_limit, review_limit, terms, resched, preview_delay, delays, mod
		FROM decks ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get decks: %w", err)
	}
	defer rows.Close()

	var decks []*domain.Deck
	for rows.Next() {
		var (
			d                   domain.Deck
			newLimit, revLimit  sql.NullInt64
			termsJSON, delaysJS string
		)
		if err := rows.Scan(
			&d.ID,
			&d.Name,
			&d.Filtered,
			&d.ConfigID,
			&d.NewToday.Day,
			&d.NewToday.Count,
			&d.ReviewToday.Day,
			&d.ReviewToday.Count,
			&d.LearnToday.Day,
			&d.LearnToday.Count,
			&newLimit,
			&revLimit,
			&termsJSON,
			&d.Resched,
			&d.PreviewDelay,
			&delaysJS,
			&d.Mod,
		); err != nil {
			return nil, fmt.Errorf("failed to scan deck row: %w", err)
		}
		if newLimit.Valid {
			v := int(newLimit.Int64)
			d.NewLimit = &v
		}
		if revLimit.Valid {
			v := int(revLimit.Int64)
			d.ReviewLimit = &v
		}
		if err := json.Unmarshal([]byte(termsJSON), &d.Terms); err != nil {
			db.log.Warn("Ignoring unreadable filter terms", "deck_id", d.ID, "error", err)
			d.Terms = nil
		}
		if err := json.Unmarshal([]byte(delaysJS), &d.Delays); err != nil {
			db.log.Warn("Ignoring unreadable step override", "deck_id", d.ID, "error", err)
			d.Delays = nil
		}
		decks = append(decks, &d)
	}
	return decks, rows.Err()
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

// SaveDeck inserts the deck when its ID is zero and updates it otherwise.
func (db *DB) SaveDeck(ctx context.Context, d *domain.Deck) error {
	terms, err := json.Marshal(d.Terms)
	if err != nil {
		return fmt.Errorf("failed to encode filter terms: %w", err)
	}
	if d.Terms == nil {
		terms = []byte("[]")
	}
	delays, err := json.Marshal(d.Delays)
	if err != nil {
		return fmt.Errorf("failed to encode step override: %w", err)
	}
	if d.Delays == nil {
		delays = []byte("[]")
	}
	args := []any{
		d.Name,
		d.Filtered,
		d.ConfigID,
		d.NewToday.Day,
		d.NewToday.Count,
		d.ReviewToday.Day,
		d.ReviewToday.Count,
		d.LearnToday.Day,
		d.LearnToday.Count,
		nullableInt(d.NewLimit),
		nullableInt(d.ReviewLimit),
		string(terms),
		d.Resched,
		d.PreviewDelay,
		string(delays),
		d.Mod,
	}

	if d.ID == 0 {
		res, err := db.q.ExecContext(ctx, `
			INSERT INTO decks (name, filtered, conf_id, new_day, new_today, rev_day, rev_today, lrn_day, lrn_today,
				new_limit, review_limit, terms, resched, preview_delay, delays, mod)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, args...)
		if err != nil {
			return fmt.Errorf("failed to insert deck %q: %w", d.Name, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert ID for deck %q: %w", d.Name, err)
		}
		d.ID = id
		return nil
	}

	_, err = db.q.ExecContext(ctx, `
		UPDATE decks
		SET name = ?, filtered = ?, conf_id = ?, new_day = ?, new_today = ?, rev_day = ?, rev_today = ?,
			lrn_day = ?, lrn_today = ?, new_limit = ?, review_limit = ?, terms = ?, resched = ?,
			preview_delay = ?, delays = ?, mod = ?
		WHERE id = ?
	`, append(args, d.ID)...)
	if err != nil {
		return fmt.Errorf("failed to update deck %d: %w", d.ID, err)
	}
	return nil
}

// decodeDeckConfig overlays the stored JSON on the defaults, so fields added
// after a config was written read as their default. Unreadable JSON falls
// back to the defaults entirely.
func (db *DB) decodeDeckConfig(id int64, name, raw string, mod int64) *domain.DeckConfig {
	conf := domain.DefaultDeckConfig()
	if err := json.Unmarshal([]byte(raw), conf); err != nil {
		db.log.Warn("Unreadable deck config, using defaults", "config_id", id, "error", err)
		conf = domain.DefaultDeckConfig()
	}
	conf.ID, conf.Name, conf.Mod = id, name, mod
	return conf
}

// DeckConfigs returns every options group ordered by id.
func (db *DB) DeckConfigs(ctx context.Context) ([]*domain.DeckConfig, error) {
	rows, err := db.q.QueryContext(ctx, `SELECT id, name, config, mod FROM deck_config ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to get deck configs: %w", err)
	}
	defer rows.Close()

	var confs []*domain.DeckConfig
	for rows.Next() {
		var (
			id, mod   int64
			name, raw string
		)
		if err := rows.Scan(&id, &name, &raw, &mod); err != nil {
			return nil, fmt.Errorf("failed to scan deck config row: %w", err)
		}
		confs = append(confs, db.decodeDeckConfig(id, name, raw, mod))
	}
	return confs, rows.Err()
}

// DeckConfig retrieves an options group by id.
func (db *DB) DeckConfig(ctx context.Context, id int64) (*domain.DeckConfig, error) {
	var (
		mod       int64
		name, raw string
	)
	err := db.q.QueryRowContext(ctx, `SELECT name, config, mod FROM deck_config WHERE id = ?`, id).Scan(&name, &raw, &mod)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("deck config %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find deck config %d: %w", id, err)
	}
	return db.decodeDeckConfig(id, name, raw, mod), nil
}

// SaveDeckConfig inserts the config when its ID is zero and updates it otherwise.
func (db *DB) SaveDeckConfig(ctx context.Context, conf *domain.DeckConfig) error {
	raw, err := json.Marshal(conf)
	if err != nil {
		return fmt.Errorf("failed to encode deck config: %w", err)
	}
	if conf.ID == 0 {
		res, err := db.q.ExecContext(ctx, `INSERT INTO deck_config (name, config, mod) VALUES (?, ?, ?)`,
			conf.Name, string(raw), conf.Mod)
		if err != nil {
			return fmt.Errorf("failed to insert deck config %q: %w", conf.Name, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert ID for deck config %q: %w", conf.Name, err)
		}
		conf.ID = id
		return nil
	}
	_, err = db.q.ExecContext(ctx, `UPDATE deck_config SET name = ?, config = ?, mod = ? WHERE id = ?`,
		conf.Name, string(raw), conf.Mod, conf.ID)
	if err != nil {
		return fmt.Errorf("failed to update deck config %d: %w", conf.ID, err)
	}
	return nil
}

// RemoveDeckConfig deletes an options group. Decks still pointing at it are
// the caller's concern.
func (db *DB) RemoveDeckConfig(ctx context.Context, id int64) error {
	if _, err := db.q.ExecContext(ctx, `DELETE FROM deck_config WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete deck config %d: %w", id, err)
	}
	return nil
}
