package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/snarg/subtitle-engine/internal/subtitle"
)

var (
	ErrNotFound  = errors.New("subtitle not found")
	ErrForbidden = errors.New("subtitle belongs to another user")
)

const subtitleColumns = `id::text, user_id, title, content, created_at, updated_at`

// InsertSubtitle stores a new subtitle owned by userID. An empty title is
// stored as "Untitled".
func (db *DB) InsertSubtitle(ctx context.Context, userID, title string, content []subtitle.Segment) (*subtitle.Subtitle, error) {
	if title == "" {
		title = subtitle.DefaultTitle
	}
	raw, err := encodeContent(content)
	if err != nil {
		return nil, fmt.Errorf("encode content: %w", err)
	}

	row := db.Pool.QueryRow(ctx, `
		INSERT INTO subtitles (id, user_id, title, content)
		VALUES ($1, $2, $3, $4)
		RETURNING `+subtitleColumns,
		uuid.NewString(), userID, title, raw,
	)
	s, err := scanSubtitle(row)
	if err != nil {
		return nil, fmt.Errorf("insert subtitle: %w", err)
	}
	return s, nil
}

// ListSubtitles returns the user's subtitles, most recently updated first.
func (db *DB) ListSubtitles(ctx context.Context, userID string) ([]subtitle.Summary, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id::text, title, created_at, updated_at
		FROM subtitles
		WHERE user_id = $1
		ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []subtitle.Summary{}
	for rows.Next() {
		var s subtitle.Summary
		if err := rows.Scan(&s.ID, &s.Title, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetSubtitle returns ErrNotFound when the subtitle is missing or owned by
// another user.
func (db *DB) GetSubtitle(ctx context.Context, id, userID string) (*subtitle.Subtitle, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	row := db.Pool.QueryRow(ctx, `
		SELECT `+subtitleColumns+`
		FROM subtitles
		WHERE id = $1 AND user_id = $2`, id, userID)
	s, err := scanSubtitle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// ReplaceSubtitle overwrites title and content. It returns ErrForbidden when
// the subtitle exists but belongs to someone else and ErrNotFound when it
// does not exist at all.
func (db *DB) ReplaceSubtitle(ctx context.Context, id, userID, title string, content []subtitle.Segment) (*subtitle.Subtitle, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	raw, err := encodeContent(content)
	if err != nil {
		return nil, fmt.Errorf("encode content: %w", err)
	}

	row := db.Pool.QueryRow(ctx, `
		UPDATE subtitles
		SET title = $3, content = $4, updated_at = now()
		WHERE id = $1 AND user_id = $2
		RETURNING `+subtitleColumns,
		id, userID, title, raw,
	)
	s, err := scanSubtitle(row)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update subtitle: %w", err)
	}

	var otherOwner bool
	if err := db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM subtitles WHERE id = $1 AND user_id <> $2)`, id, userID,
	).Scan(&otherOwner); err != nil {
		return nil, err
	}
	if otherOwner {
		return nil, ErrForbidden
	}
	return nil, ErrNotFound
}

// DeleteSubtitle returns ErrNotFound when nothing owned by userID matched.
func (db *DB) DeleteSubtitle(ctx context.Context, id, userID string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	tag, err := db.Pool.Exec(ctx, `DELETE FROM subtitles WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSubtitle(row pgx.Row) (*subtitle.Subtitle, error) {
	var (
		s   subtitle.Subtitle
		raw []byte
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.Title, &raw, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	content, err := decodeContent(raw)
	if err != nil {
		return nil, fmt.Errorf("decode content of %s: %w", s.ID, err)
	}
	s.Content = content
	return &s, nil
}
