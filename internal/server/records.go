package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrRecordNotFound = errors.New("RECORD_NOT_FOUND: no record with this id")
	ErrUsernameTaken  = errors.New("USERNAME_TAKEN: username already taken")
)

type PlayerRecord struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// GameRecord is the durable shadow of a session: created before the
// invitation handshake, moved to "playing" at start and "finished" at end.
// Live session state never lives here.
type GameRecord struct {
	ID        string
	Status    string // created | playing | finished
	Config    BoardConfig
	Players   []string
	Creator   string
	Winner    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecordStore is the archival collaborator consumed by the coordinator and
// the CRUD routes. The coordinator calls it at state transitions but never
// blocks broadcasts on its completion.
type RecordStore interface {
	CreatePlayer(ctx context.Context, username, passwordHash string) (PlayerRecord, error)
	PlayerByUsername(ctx context.Context, username string) (PlayerRecord, error)
	GetPlayer(ctx context.Context, id string) (PlayerRecord, error)
	UpdatePlayer(ctx context.Context, id, username, passwordHash string) error
	DeletePlayer(ctx context.Context, id string) error

	CreateRecord(ctx context.Context, rec GameRecord) error
	GetRecord(ctx context.Context, id string) (GameRecord, error)
	RecordsByPlayer(ctx context.Context, playerID string) ([]GameRecord, error)
	UpdateRecord(ctx context.Context, id, status, winner string) error
	DeleteRecord(ctx context.Context, id string) error
	CleanupOldRecords(ctx context.Context, age time.Duration) (int64, error)
}

// SQLRecordStore implements RecordStore over Postgres.
type SQLRecordStore struct {
	db *sql.DB
}

func NewSQLRecordStore(db *sql.DB) *SQLRecordStore {
	return &SQLRecordStore{db: db}
}

func (rs *SQLRecordStore) CreatePlayer(ctx context.Context, username, passwordHash string) (PlayerRecord, error) {
	rec := PlayerRecord{Username: username, PasswordHash: passwordHash}

	query := `
		INSERT INTO players (username, password_hash)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at
	`
	err := rs.db.QueryRowContext(ctx, query, username, passwordHash).
		Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if isUniqueViolation(err) {
		return PlayerRecord{}, ErrUsernameTaken
	}
	if err != nil {
		return PlayerRecord{}, fmt.Errorf("failed to create player: %w", err)
	}
	return rec, nil
}

func (rs *SQLRecordStore) PlayerByUsername(ctx context.Context, username string) (PlayerRecord, error) {
	return rs.scanPlayer(rs.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at, updated_at
		FROM players WHERE username = $1
	`, username))
}

func (rs *SQLRecordStore) GetPlayer(ctx context.Context, id string) (PlayerRecord, error) {
	return rs.scanPlayer(rs.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at, updated_at
		FROM players WHERE id = $1
	`, id))
}

func (rs *SQLRecordStore) scanPlayer(row *sql.Row) (PlayerRecord, error) {
	var rec PlayerRecord
	err := row.Scan(&rec.ID, &rec.Username, &rec.PasswordHash, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return PlayerRecord{}, ErrRecordNotFound
	}
	if err != nil {
		return PlayerRecord{}, fmt.Errorf("failed to load player: %w", err)
	}
	return rec, nil
}

func (rs *SQLRecordStore) UpdatePlayer(ctx context.Context, id, username, passwordHash string) error {
	res, err := rs.db.ExecContext(ctx, `
		UPDATE players
		SET username = COALESCE(NULLIF($2, ''), username),
		    password_hash = COALESCE(NULLIF($3, ''), password_hash),
		    updated_at = now()
		WHERE id = $1
	`, id, username, passwordHash)
	if isUniqueViolation(err) {
		return ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("failed to update player %s: %w", id, err)
	}
	return requireRow(res)
}

func (rs *SQLRecordStore) DeletePlayer(ctx context.Context, id string) error {
	_, err := rs.db.ExecContext(ctx, `DELETE FROM players WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete player %s: %w", id, err)
	}
	return nil
}

func (rs *SQLRecordStore) CreateRecord(ctx context.Context, rec GameRecord) error {
	players, err := json.Marshal(rec.Players)
	if err != nil {
		return fmt.Errorf("failed to serialize players: %w", err)
	}

	query := `
		INSERT INTO games (id, status, num_players, size, density, players, creator, winner)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))
	`
	_, err = rs.db.ExecContext(ctx, query,
		rec.ID, rec.Status,
		rec.Config.NumPlayers, rec.Config.Size, rec.Config.Density,
		players, rec.Creator, rec.Winner,
	)
	if err != nil {
		return fmt.Errorf("failed to create game record %s: %w", rec.ID, err)
	}
	return nil
}

func (rs *SQLRecordStore) GetRecord(ctx context.Context, id string) (GameRecord, error) {
	row := rs.db.QueryRowContext(ctx, `
		SELECT id, status, num_players, size, density, players, creator,
		       COALESCE(winner, ''), created_at, updated_at
		FROM games WHERE id = $1
	`, id)
	return scanRecord(row.Scan)
}

func (rs *SQLRecordStore) RecordsByPlayer(ctx context.Context, playerID string) ([]GameRecord, error) {
	rows, err := rs.db.QueryContext(ctx, `
		SELECT id, status, num_players, size, density, players, creator,
		       COALESCE(winner, ''), created_at, updated_at
		FROM games
		WHERE jsonb_exists(players, $1)
		ORDER BY created_at DESC
	`, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load games for %s: %w", playerID, err)
	}
	defer rows.Close()

	records := []GameRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(scan func(...interface{}) error) (GameRecord, error) {
	var rec GameRecord
	var players []byte
	err := scan(&rec.ID, &rec.Status,
		&rec.Config.NumPlayers, &rec.Config.Size, &rec.Config.Density,
		&players, &rec.Creator, &rec.Winner, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return GameRecord{}, ErrRecordNotFound
	}
	if err != nil {
		return GameRecord{}, fmt.Errorf("failed to load game record: %w", err)
	}
	if err := json.Unmarshal(players, &rec.Players); err != nil {
		return GameRecord{}, fmt.Errorf("failed to deserialize players: %w", err)
	}
	return rec, nil
}

func (rs *SQLRecordStore) UpdateRecord(ctx context.Context, id, status, winner string) error {
	res, err := rs.db.ExecContext(ctx, `
		UPDATE games
		SET status = $2, winner = NULLIF($3, ''), updated_at = now()
		WHERE id = $1
	`, id, status, winner)
	if err != nil {
		return fmt.Errorf("failed to update game record %s: %w", id, err)
	}
	return requireRow(res)
}

func (rs *SQLRecordStore) DeleteRecord(ctx context.Context, id string) error {
	_, err := rs.db.ExecContext(ctx, `DELETE FROM games WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete game record %s: %w", id, err)
	}
	return nil
}

// CleanupOldRecords deletes finished games older than the given age so the
// table doesn't grow without bound.
func (rs *SQLRecordStore) CleanupOldRecords(ctx context.Context, age time.Duration) (int64, error) {
	res, err := rs.db.ExecContext(ctx, `
		DELETE FROM games
		WHERE status = 'finished' AND updated_at < $1
	`, time.Now().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up old records: %w", err)
	}
	return res.RowsAffected()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
