package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator provides database schema validation functionality
// ARCHITECTURAL DISCOVERY: Separate validation component enables deployment
// verification without coupling to the migration system
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"rooms":             "Directory snapshots",
		"messages":          "Message transcript",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.exists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies table column structure matches expectations
// TECHNICAL DISCOVERY: Column validation ensures type compatibility between
// Go structs and database schema
func (v *SchemaValidator) ValidateTableStructure() error {
	roomColumns := map[string]string{
		"room_id":          "TEXT",
		"list":             "TEXT",
		"type":             "TEXT",
		"participant_id":   "TEXT",
		"participant_type": "TEXT",
		"display_name":     "TEXT",
		"related_id":       "TEXT",
		"last_activity":    "DATETIME",
		"updated_at":       "DATETIME",
	}

	if err := v.validateColumns("rooms", roomColumns); err != nil {
		return fmt.Errorf("rooms table structure invalid: %w", err)
	}

	messageColumns := map[string]string{
		"id":           "TEXT",
		"room_id":      "TEXT",
		"sender_id":    "TEXT",
		"sender_type":  "TEXT",
		"message_type": "TEXT",
		"content":      "TEXT",
		"timestamp":    "DATETIME",
		"payload":      "TEXT",
		"recorded_at":  "DATETIME",
	}

	if err := v.validateColumns("messages", messageColumns); err != nil {
		return fmt.Errorf("messages table structure invalid: %w", err)
	}

	return nil
}

// ValidateIndexes verifies that all lookup indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_rooms_list":         "Directory partition lookups",
		"idx_messages_room_time": "Transcript retrieval",
		"idx_messages_sender":    "Per-sender audit",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.exists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}

	return nil
}

// ValidateConstraints verifies that the enum CHECK constraints are enforced
// ARCHITECTURAL DISCOVERY: Sender and message types are enforced at the database
// level as well as in types.Message.Validate
func (v *SchemaValidator) ValidateConstraints() error {
	probes := []struct {
		what  string
		query string
	}{
		{"sender type", `INSERT INTO messages (id, room_id, sender_type, message_type, timestamp, payload, recorded_at)
			VALUES ('__probe', 'r', 'ROBOT', 'TEXT', CURRENT_TIMESTAMP, '{}', CURRENT_TIMESTAMP)`},
		{"message type", `INSERT INTO messages (id, room_id, sender_type, message_type, timestamp, payload, recorded_at)
			VALUES ('__probe', 'r', 'CUSTOMER', 'AUDIO', CURRENT_TIMESTAMP, '{}', CURRENT_TIMESTAMP)`},
		{"room list", `INSERT INTO rooms (room_id, list, updated_at)
			VALUES ('__probe', 'archived', CURRENT_TIMESTAMP)`},
	}

	for _, p := range probes {
		if _, err := v.db.Exec(p.query); err == nil {
			_, _ = v.db.Exec("DELETE FROM messages WHERE id = '__probe'")
			_, _ = v.db.Exec("DELETE FROM rooms WHERE room_id = '__probe'")
			return fmt.Errorf("check constraint not enforced: %s", p.what)
		}
	}

	return nil
}

func (v *SchemaValidator) exists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid, notNull, pk int
		var name, dataType string
		var defaultValue interface{}

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}

	return nil
}
