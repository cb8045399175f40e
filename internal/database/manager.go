package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	dbconfig "chatdesk/pkg/database"
	"chatdesk/pkg/interfaces"
	"chatdesk/pkg/types"
)

var (
	ErrManagerClosed = errors.New("journal manager is closed")
	ErrWriteTimeout  = errors.New("journal write operation timeout")
)

// Manager is the sqlite transcript journal
// ARCHITECTURAL DISCOVERY: The session writes after every materialization and
// never reads back; reads serve audit only and may run concurrently
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *zap.Logger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

var _ interfaces.Journal = (*Manager)(nil)

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the journal database and starts the writer. Call Migrate
// before the first write.
func NewManager(config *dbconfig.Config, logger *zap.Logger) (*Manager, error) {
	if config == nil {
		config = dbconfig.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid journal configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger.With(zap.String("component", "journal"), zap.String("path", config.DatabasePath)),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// Migrate applies pending schema migrations.
func (m *Manager) Migrate() error {
	mm := dbconfig.NewMigrationManager(m.db, m.config.MigrationsPath)
	if err := mm.ApplyMigrations(); err != nil {
		return err
	}
	return mm.ValidateSchema()
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: Retry exactly once after the configured delay
			err := op.operation(m.db)
			if err != nil && m.config.RetryDelay > 0 {
				m.logger.Warn("journal write failed, retrying",
					zap.Duration("delay", m.config.RetryDelay), zap.Error(err))
				select {
				case <-time.After(m.config.RetryDelay):
					err = op.operation(m.db)
				case <-m.shutdown:
				}
				if err != nil {
					m.logger.Error("journal write failed after retry", zap.Error(err))
				}
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug("journal write loop shutting down")
			return
		}
	}
}

func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(m.config.WriteTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// StoreRooms upserts every room of the snapshot under its current partition.
func (m *Manager) StoreRooms(ctx context.Context, list *types.ChatList) error {
	if list == nil {
		return nil
	}
	now := time.Now().UTC()

	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO rooms (room_id, list, type, participant_id, participant_type, display_name, related_id, last_activity, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(room_id) DO UPDATE SET
				list = excluded.list,
				type = excluded.type,
				participant_id = excluded.participant_id,
				participant_type = excluded.participant_type,
				display_name = excluded.display_name,
				related_id = excluded.related_id,
				last_activity = excluded.last_activity,
				updated_at = excluded.updated_at
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare room upsert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		partitions := []struct {
			name  string
			rooms []types.Room
		}{
			{"ongoing", list.Ongoing},
			{"awaiting", list.Awaiting},
		}
		for _, p := range partitions {
			for _, room := range p.rooms {
				var lastActivity interface{}
				if !room.LastActivity.IsZero() {
					lastActivity = room.LastActivity.UTC()
				}
				_, err := stmt.ExecContext(ctx,
					room.RoomID,
					p.name,
					room.Type,
					room.OtherParticipant.UserID,
					room.OtherParticipant.UserType,
					room.OtherParticipant.DisplayName(),
					room.RelatedID,
					lastActivity,
					now,
				)
				if err != nil {
					return fmt.Errorf("failed to upsert room %s: %w", room.RoomID, err)
				}
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit room snapshot: %w", err)
		}
		return nil
	})
}

// StoreMessages upserts messages keyed by id. A later copy of the same id
// replaces the earlier one.
func (m *Manager) StoreMessages(ctx context.Context, messages []types.Message) error {
	if len(messages) == 0 {
		return nil
	}
	now := time.Now().UTC()

	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO messages (id, room_id, sender_id, sender_type, message_type, content, timestamp, payload, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				room_id = excluded.room_id,
				sender_id = excluded.sender_id,
				sender_type = excluded.sender_type,
				message_type = excluded.message_type,
				content = excluded.content,
				timestamp = excluded.timestamp,
				payload = excluded.payload,
				recorded_at = excluded.recorded_at
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare message upsert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for i := range messages {
			msg := &messages[i]
			// TECHNICAL DISCOVERY: The full record is kept as JSON so sender
			// details round-trip without a table per sender kind
			payload, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("failed to marshal message %s: %w", msg.ID, err)
			}
			_, err = stmt.ExecContext(ctx,
				msg.ID,
				msg.RoomID,
				msg.SenderID,
				string(msg.SenderType),
				string(msg.MessageType),
				msg.Content,
				msg.Timestamp.UTC(),
				string(payload),
				now,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert message %s: %w", msg.ID, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit messages: %w", err)
		}
		return nil
	})
}

// RoomTranscript returns the recorded messages of a room, oldest first.
func (m *Manager) RoomTranscript(ctx context.Context, roomID string) ([]types.Message, error) {
	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
	rows, err := m.db.QueryContext(ctx, `
		SELECT payload
		FROM messages
		WHERE room_id = ?
		ORDER BY timestamp ASC, id ASC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]types.Message, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		var msg types.Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message payload: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}

	return messages, nil
}

// RoomCount returns the number of rooms recorded per partition.
func (m *Manager) RoomCount(ctx context.Context) (map[string]int, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT list, COUNT(*) FROM rooms GROUP BY list")
	if err != nil {
		return nil, fmt.Errorf("failed to count rooms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := map[string]int{"ongoing": 0, "awaiting": 0}
	for rows.Next() {
		var list string
		var n int
		if err := rows.Scan(&list, &n); err != nil {
			return nil, err
		}
		counts[list] = n
	}
	return counts, rows.Err()
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}

	return nil
}

// GetDB returns the underlying database connection
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the database. Safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}
