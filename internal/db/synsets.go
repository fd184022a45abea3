package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// SynsetRow is one line of a repository word list.
type SynsetRow struct {
	ID          string
	Description string
	// Position is the zero-based line index in the word list.
	Position       int
	HasImages      bool
	HasAnnotations bool
}

// ReplaceSynsets swaps the whole index for rows in one transaction.
func (db *DB) ReplaceSynsets(rows []SynsetRow) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM synsets`); err != nil {
		return fmt.Errorf("failed to clear synsets: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO synsets (id, description, position, has_images, has_annotations) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.ID, r.Description, r.Position, r.HasImages, r.HasAnnotations); err != nil {
			return fmt.Errorf("failed to insert synset %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

const synsetColumns = `id, description, position, has_images, has_annotations`

func scanSynsets(rows *sql.Rows) ([]SynsetRow, error) {
	defer rows.Close()
	var out []SynsetRow
	for rows.Next() {
		var r SynsetRow
		if err := rows.Scan(&r.ID, &r.Description, &r.Position, &r.HasImages, &r.HasAnnotations); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Synsets lists every indexed synset in word list order.
func (db *DB) Synsets() ([]SynsetRow, error) {
	rows, err := db.Query(`SELECT ` + synsetColumns + ` FROM synsets ORDER BY position`)
	if err != nil {
		return nil, err
	}
	return scanSynsets(rows)
}

// CountSynsets returns the number of indexed synsets.
func (db *DB) CountSynsets() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM synsets`).Scan(&n)
	return n, err
}

// Synset looks up one synset by id. ok is false when it is not indexed.
func (db *DB) Synset(id string) (row SynsetRow, ok bool, err error) {
	err = db.QueryRow(`SELECT `+synsetColumns+` FROM synsets WHERE id = ?`, id).
		Scan(&row.ID, &row.Description, &row.Position, &row.HasImages, &row.HasAnnotations)
	if errors.Is(err, sql.ErrNoRows) {
		return SynsetRow{}, false, nil
	}
	if err != nil {
		return SynsetRow{}, false, err
	}
	return row, true, nil
}

// SearchCandidates returns synsets whose description contains at least one
// of words, case-insensitively, in word list order.
func (db *DB) SearchCandidates(words []string) ([]SynsetRow, error) {
	if len(words) == 0 {
		return nil, nil
	}
	clauses := make([]string, len(words))
	args := make([]interface{}, len(words))
	for i, w := range words {
		clauses[i] = `LOWER(description) LIKE ? ESCAPE '\'`
		args[i] = "%" + escapeLike(strings.ToLower(w)) + "%"
	}
	q := `SELECT ` + synsetColumns + ` FROM synsets WHERE ` + strings.Join(clauses, " OR ") + ` ORDER BY position`
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	return scanSynsets(rows)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// SetMeta stores a repository property such as the word list signature.
func (db *DB) SetMeta(key, value string) error {
	_, err := db.Exec(`INSERT INTO repository_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// Meta returns a stored property, or "" when unset.
func (db *DB) Meta(key string) (string, error) {
	var v string
	err := db.QueryRow(`SELECT value FROM repository_meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}
