package server

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memRecordStore is an in-memory RecordStore for handler tests, so the
// websocket and REST suites run without a database.
type memRecordStore struct {
	players map[string]PlayerRecord
	games   map[string]GameRecord
	nextID  int
	mu      sync.Mutex
}

func newMemRecordStore() *memRecordStore {
	return &memRecordStore{
		players: make(map[string]PlayerRecord),
		games:   make(map[string]GameRecord),
	}
}

func (m *memRecordStore) CreatePlayer(ctx context.Context, username, passwordHash string) (PlayerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.players {
		if p.Username == username {
			return PlayerRecord{}, ErrUsernameTaken
		}
	}

	m.nextID++
	now := time.Now()
	rec := PlayerRecord{
		ID:           fmt.Sprintf("player-%d", m.nextID),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.players[rec.ID] = rec
	return rec, nil
}

func (m *memRecordStore) PlayerByUsername(ctx context.Context, username string) (PlayerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.players {
		if p.Username == username {
			return p, nil
		}
	}
	return PlayerRecord{}, ErrRecordNotFound
}

func (m *memRecordStore) GetPlayer(ctx context.Context, id string) (PlayerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.players[id]
	if !ok {
		return PlayerRecord{}, ErrRecordNotFound
	}
	return rec, nil
}

func (m *memRecordStore) UpdatePlayer(ctx context.Context, id, username, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.players[id]
	if !ok {
		return ErrRecordNotFound
	}
	if username != "" {
		for _, p := range m.players {
			if p.Username == username && p.ID != id {
				return ErrUsernameTaken
			}
		}
		rec.Username = username
	}
	if passwordHash != "" {
		rec.PasswordHash = passwordHash
	}
	rec.UpdatedAt = time.Now()
	m.players[id] = rec
	return nil
}

func (m *memRecordStore) DeletePlayer(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.players, id)
	return nil
}

func (m *memRecordStore) CreateRecord(ctx context.Context, rec GameRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	m.games[rec.ID] = rec
	return nil
}

func (m *memRecordStore) GetRecord(ctx context.Context, id string) (GameRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.games[id]
	if !ok {
		return GameRecord{}, ErrRecordNotFound
	}
	return rec, nil
}

func (m *memRecordStore) RecordsByPlayer(ctx context.Context, playerID string) ([]GameRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []GameRecord{}
	for _, rec := range m.games {
		for _, p := range rec.Players {
			if p == playerID {
				out = append(out, rec)
				break
			}
		}
	}
	return out, nil
}

func (m *memRecordStore) UpdateRecord(ctx context.Context, id, status, winner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.games[id]
	if !ok {
		return ErrRecordNotFound
	}
	rec.Status = status
	if winner != "" {
		rec.Winner = winner
	}
	rec.UpdatedAt = time.Now()
	m.games[id] = rec
	return nil
}

func (m *memRecordStore) DeleteRecord(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.games, id)
	return nil
}

func (m *memRecordStore) CleanupOldRecords(ctx context.Context, age time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-age)
	var deleted int64
	for id, rec := range m.games {
		if rec.Status == "finished" && rec.UpdatedAt.Before(cutoff) {
			delete(m.games, id)
			deleted++
		}
	}
	return deleted, nil
}
