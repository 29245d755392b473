package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/EpicMandM/vsphere-group-manager/internal/models"
)

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dbPath, err := resolveDBPath(path)
	if err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := initSchema(db); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, errors.Join(err, cerr)
		}
		return nil, err
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func resolveDBPath(path string) (string, error) {
	abs := filepath.Clean(path)
	if strings.HasSuffix(abs, ".db") {
		if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
			return "", err
		}
		return abs, nil
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return "", err
	}
	return filepath.Join(abs, "groups.db"), nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		"CREATE TABLE IF NOT EXISTS vm_groups (name TEXT PRIMARY KEY, id TEXT NOT NULL UNIQUE, updated_at TEXT NOT NULL, data BLOB NOT NULL);",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveGroup inserts or replaces the group stored under group.Name. A group
// keeps its ID across saves; new groups get a fresh one.
func (s *SQLiteStore) SaveGroup(group *models.GroupRecord) error {
	if group.Name == "" {
		return fmt.Errorf("group name is required")
	}

	var existing string
	err := s.db.QueryRow(`SELECT id FROM vm_groups WHERE name = ?`, group.Name).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if group.ID == "" {
			group.ID = uuid.NewString()
		}
	case err != nil:
		return fmt.Errorf("failed to look up group %q: %w", group.Name, err)
	default:
		group.ID = existing
	}
	group.UpdatedAt = s.now().UTC()

	data, err := json.Marshal(group)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO vm_groups (name, id, updated_at, data) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET updated_at = excluded.updated_at, data = excluded.data`,
		group.Name, group.ID, group.UpdatedAt.Format(time.RFC3339Nano), data)
	if err != nil {
		return fmt.Errorf("failed to save group %q: %w", group.Name, err)
	}
	return nil
}

func (s *SQLiteStore) GetGroup(name string) (*models.GroupRecord, error) {
	var raw []byte
	err := s.db.QueryRow(`SELECT data FROM vm_groups WHERE name = ?`, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %q: %w", name, ErrGroupNotFound)
	}
	if err != nil {
		return nil, err
	}
	var group models.GroupRecord
	if err := json.Unmarshal(raw, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

func (s *SQLiteStore) ListGroups() ([]*models.GroupRecord, error) {
	rows, err := s.db.Query(`SELECT data FROM vm_groups ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var groups []*models.GroupRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var group models.GroupRecord
		if err := json.Unmarshal(raw, &group); err != nil {
			return nil, err
		}
		groups = append(groups, &group)
	}
	return groups, rows.Err()
}

func (s *SQLiteStore) DeleteGroup(name string) error {
	res, err := s.db.Exec(`DELETE FROM vm_groups WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("group %q: %w", name, ErrGroupNotFound)
	}
	return nil
}
