package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/beadsync/beadsync/internal/graph"
	"github.com/beadsync/beadsync/internal/storage"
)

// Config keys read by the store itself.
const (
	ConfigIssuePrefix      = "issue_prefix"
	ConfigCustomStatuses   = "status.custom"
	ConfigCustomTypes      = "types.custom"
	ConfigFailureReasons   = "deps.conditional-blocks.failure-reasons"
	ConfigWaitsForMode     = "deps.waits-for.mode"
	ConfigAbsentIsResolved = "deps.absent-is-resolved"
	ConfigReadySortPolicy  = "ready.sort-policy"
)

func getKeyValue(ctx context.Context, q dbtx, table, key string) (string, error) {
	var value string
	// #nosec G201 - table is one of two constants
	err := q.QueryRowContext(ctx, `SELECT value FROM `+table+` WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, wrapDBErrorf(err, "get %s %s", table, key)
}

func setKeyValue(ctx context.Context, q dbtx, table, key, value string) error {
	// #nosec G201 - table is one of two constants
	_, err := q.ExecContext(ctx, `
		INSERT INTO `+table+` (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	return wrapDBErrorf(err, "set %s %s", table, key)
}

func getConfig(ctx context.Context, q dbtx, key string) (string, error) {
	return getKeyValue(ctx, q, "config", key)
}

func getMetadata(ctx context.Context, q dbtx, key string) (string, error) {
	return getKeyValue(ctx, q, "metadata", key)
}

func setMetadata(ctx context.Context, q dbtx, key, value string) error {
	if err := storage.ValidateMetadataKey(key); err != nil {
		return storage.InvalidInput("", err)
	}
	return setKeyValue(ctx, q, "metadata", key, value)
}

// SetConfig sets a configuration value
func (s *SQLiteStorage) SetConfig(ctx context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return storage.InvalidInput("", errors.New("config key cannot be empty"))
	}
	return s.writeTx(ctx, func(q dbtx) error { return setKeyValue(ctx, q, "config", key, value) })
}

// GetConfig gets a configuration value. A missing key reads as "".
func (s *SQLiteStorage) GetConfig(ctx context.Context, key string) (string, error) {
	return getConfig(ctx, s.db, key)
}

// DeleteConfig removes a configuration value.
func (s *SQLiteStorage) DeleteConfig(ctx context.Context, key string) error {
	return s.writeTx(ctx, func(q dbtx) error {
		_, err := q.ExecContext(ctx, `DELETE FROM config WHERE key = ?`, key)
		return wrapDBErrorf(err, "delete config %s", key)
	})
}

// GetAllConfig returns every configuration value.
func (s *SQLiteStorage) GetAllConfig(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM config ORDER BY key`)
	if err != nil {
		return nil, wrapDBError("get all config", err)
	}
	defer func() { _ = rows.Close() }()
	config := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		config[key] = value
	}
	return config, rows.Err()
}

// SetMetadata sets a metadata value (for internal state like import hashes)
func (s *SQLiteStorage) SetMetadata(ctx context.Context, key, value string) error {
	return s.writeTx(ctx, func(q dbtx) error { return setMetadata(ctx, q, key, value) })
}

// GetMetadata gets a metadata value. A missing key reads as "".
func (s *SQLiteStorage) GetMetadata(ctx context.Context, key string) (string, error) {
	return getMetadata(ctx, s.db, key)
}

// splitList parses a comma-separated config value, dropping blanks.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// customValues reads the custom statuses and issue types allowed on top of
// the built-in ones.
func customValues(ctx context.Context, q dbtx) (statuses, issueTypes []string, err error) {
	rawStatuses, err := getConfig(ctx, q, ConfigCustomStatuses)
	if err != nil {
		return nil, nil, err
	}
	rawTypes, err := getConfig(ctx, q, ConfigCustomTypes)
	if err != nil {
		return nil, nil, err
	}
	return splitList(rawStatuses), splitList(rawTypes), nil
}

// graphPolicy returns the pinned policy, or the default overlaid with
// whatever the config table sets.
func (s *SQLiteStorage) graphPolicy(ctx context.Context, q dbtx) (graph.Policy, error) {
	if s.policy != nil {
		return *s.policy, nil
	}
	policy := graph.DefaultPolicy()

	reasons, err := getConfig(ctx, q, ConfigFailureReasons)
	if err != nil {
		return policy, err
	}
	if list := splitList(reasons); len(list) > 0 {
		policy.ConditionalFailureReasons = list
	}

	mode, err := getConfig(ctx, q, ConfigWaitsForMode)
	if err != nil {
		return policy, err
	}
	if m := graph.WaitsForMode(strings.TrimSpace(mode)); m.IsValid() {
		policy.WaitsFor = m
	}

	absent, err := getConfig(ctx, q, ConfigAbsentIsResolved)
	if err != nil {
		return policy, err
	}
	if b, err := strconv.ParseBool(strings.TrimSpace(absent)); err == nil {
		policy.AbsentIsResolved = b
	}
	return policy, nil
}
