package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/noteverse/noteverse/internal/schema"
)

// GetSetting returns the value for a settings key. The second return value
// reports whether the key exists.
func (s *Store) GetSetting(key string) (string, bool, error) {
	return s.GetSettingContext(context.Background(), key)
}

// GetSettingContext returns a setting with context support.
func (s *Store) GetSettingContext(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.conn.QueryRowContext(ctx,
		"SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting stores a settings value, replacing any existing one.
func (s *Store) SetSetting(key, value string) error {
	return s.SetSettingContext(context.Background(), key, value)
}

// SetSettingContext stores a setting with context support.
func (s *Store) SetSettingContext(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO settings (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := s.conn.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// DeleteSetting removes a settings key. Missing keys are a no-op.
func (s *Store) DeleteSetting(key string) error {
	return s.DeleteSettingContext(context.Background(), key)
}

// DeleteSettingContext removes a setting with context support.
func (s *Store) DeleteSettingContext(ctx context.Context, key string) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}

// Setting is one key/value pair from the settings table.
type Setting struct {
	Key   string
	Value string
}

// SettingsByPrefix returns all settings whose key starts with the prefix,
// ordered by key. Used to enumerate conflict_<noteID> records.
func (s *Store) SettingsByPrefix(prefix string) ([]Setting, error) {
	return s.SettingsByPrefixContext(context.Background(), prefix)
}

// SettingsByPrefixContext returns prefixed settings with context support.
func (s *Store) SettingsByPrefixContext(ctx context.Context, prefix string) ([]Setting, error) {
	// Escape LIKE metacharacters so a literal prefix match is guaranteed.
	escaped := strings.NewReplacer("%", `\%`, "_", `\_`).Replace(prefix)

	rows, err := s.conn.QueryContext(ctx,
		`SELECT key, value FROM settings WHERE key LIKE ? ESCAPE '\' ORDER BY key ASC`,
		escaped+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	var settings []Setting
	for rows.Next() {
		var kv Setting
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		settings = append(settings, kv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settings: %w", err)
	}

	return settings, nil
}

// DeviceID returns this store's stable device identifier, generating and
// persisting one on first use.
func (s *Store) DeviceID() (string, error) {
	return s.DeviceIDContext(context.Background())
}

// DeviceIDContext returns the device identifier with context support.
func (s *Store) DeviceIDContext(ctx context.Context) (string, error) {
	id, ok, err := s.GetSettingContext(ctx, schema.SettingDeviceID)
	if err != nil {
		return "", err
	}
	if ok {
		return id, nil
	}

	id = uuid.NewString()
	if err := s.SetSettingContext(ctx, schema.SettingDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}
