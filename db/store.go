// Package db is the Postgres persistence layer for sessions and transcript
// records.
package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed db_init.sql
var sqlFS embed.FS

// ErrNotFound is returned when a session or transcript does not exist.
var ErrNotFound = errors.New("db: not found")

type Session struct {
	ID         string
	Owner      string
	PatientRef string
	StartedAt  time.Time
	EndedAt    *time.Time
}

type Transcript struct {
	ID        string
	SessionID string
	Text      string
	Speaker   string
	IsFinal   bool
	CreatedAt time.Time
}

// Store wraps a pgx pool with the queries this system needs.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres and applies the embedded schema.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	sqlFile, err := sqlFS.ReadFile("db_init.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded db_init.sql: %w", err)
	}

	if _, err := pool.Exec(ctx, string(sqlFile)); err != nil {
		return nil, fmt.Errorf("failed to execute embedded db_init.sql: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) CreateSession(
	ctx context.Context,
	id, owner, patientRef string,
) (Session, error) {
	var sess Session
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sessions (id, owner, patient_ref)
		VALUES ($1, $2, $3)
		RETURNING id, owner, COALESCE(patient_ref, ''), started_at, ended_at
	`, id, owner, patientRef).Scan(
		&sess.ID, &sess.Owner, &sess.PatientRef, &sess.StartedAt, &sess.EndedAt,
	)
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func (s *Store) FindSession(ctx context.Context, id string) (Session, error) {
	var sess Session
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner, COALESCE(patient_ref, ''), started_at, ended_at
		FROM sessions WHERE id = $1
	`, id).Scan(
		&sess.ID, &sess.Owner, &sess.PatientRef, &sess.StartedAt, &sess.EndedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("find session: %w", err)
	}
	return sess, nil
}

func (s *Store) EndSession(ctx context.Context, id string) error {
	// Ending an already-ended session is a no-op; teardown may race a crash
	// recovery path.
	_, err := s.pool.Exec(ctx, `
		UPDATE sessions SET ended_at = now()
		WHERE id = $1 AND ended_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

func (s *Store) InsertTranscript(ctx context.Context, t Transcript) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transcripts (id, session_id, text, speaker, is_final, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.SessionID, t.Text, t.Speaker, t.IsFinal, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}
	return nil
}

func (s *Store) UpdateTranscriptSpeaker(
	ctx context.Context,
	id, newSpeaker string,
) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE transcripts SET speaker = $2 WHERE id = $1
	`, id, newSpeaker)
	if err != nil {
		return fmt.Errorf("update transcript speaker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SessionTranscripts(
	ctx context.Context,
	sessionID string,
) ([]Transcript, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, text, speaker, is_final, created_at
		FROM transcripts
		WHERE session_id = $1
		ORDER BY created_at
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	defer rows.Close()

	var transcripts []Transcript
	for rows.Next() {
		var t Transcript
		if err := rows.Scan(
			&t.ID, &t.SessionID, &t.Text, &t.Speaker, &t.IsFinal, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		transcripts = append(transcripts, t)
	}
	return transcripts, rows.Err()
}
