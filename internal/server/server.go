package server

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/pressly/goose/v3"

	"boardgame-server/internal/database"
)

type Server struct {
	config      Config
	db          database.Service
	registry    *ConnectionRegistry
	store       *SessionStore
	records     RecordStore
	auth        *AuthService
	rateLimiter *RateLimiter
	health      *ConnectionHealth
	done        chan struct{}
}

func NewServer() (*Server, *http.Server, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, nil, err
	}

	dbService, err := database.New(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	if err := runMigrations(dbService.DB()); err != nil {
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	s := &Server{
		config:      cfg,
		db:          dbService,
		registry:    NewConnectionRegistry(),
		store:       NewSessionStore(cfg.FormingTimeout, cfg.PlayingTimeout),
		records:     NewSQLRecordStore(dbService.DB()),
		auth:        NewAuthService(cfg.TokenSecret),
		rateLimiter: NewRateLimiter(10, time.Second),
		health:      NewConnectionHealth(),
		done:        make(chan struct{}),
	}
	s.store.OnExpire(s.onSessionExpired)

	go s.recordCleanupTask()
	go s.inactivitySweepTask()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s, httpServer, nil
}

// runMigrations applies database migrations using goose.
func runMigrations(db *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, "./db/migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	log.Println("Database migrations applied successfully")
	return nil
}

// recordCleanupTask prunes finished game records older than 24 hours, giving
// players time to review results before the record disappears.
func (s *Server) recordCleanupTask() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			deleted, err := s.records.CleanupOldRecords(context.Background(), 24*time.Hour)
			if err != nil {
				log.Printf("Record cleanup failed: %v", err)
				continue
			}
			if deleted > 0 {
				log.Printf("Record cleanup: deleted %d old finished games", deleted)
			}
		}
	}
}

// inactivitySweepTask closes sockets that have been silent past the
// heartbeat budget. Clients ping periodically; a reaped connection can
// always reconnect and recover via request-missing-moves.
func (s *Server) inactivitySweepTask() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			for _, connID := range s.health.InactiveConnections(5 * time.Minute) {
				log.Printf("Closing inactive connection %s", connID)
				s.registry.CloseConnection(connID, "Inactive connection")
			}
		}
	}
}

// Shutdown stops background tasks and closes the record store. In-memory
// sessions are intentionally not persisted; clients recover through the
// invitation and move-recovery protocols after a restart.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.done)
	return s.db.Close()
}
