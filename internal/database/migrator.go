// migrator.go: 归档表的 schema 迁移。
//
// 脚本来自 fs.FS (默认内嵌的 migrations.FS), 文件名即版本号。
// 每个脚本在独立事务中执行, 事务内先取 advisory lock 再复查版本,
// 多个进程同时启动时同一脚本只会执行一次。
package database

import (
	"context"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/multi-agent/agent-sync/migrations"
	apperrors "github.com/multi-agent/agent-sync/pkg/errors"
	"github.com/multi-agent/agent-sync/pkg/logger"
)

// migrationLockKey pg_advisory_xact_lock 的键, 仅本程序使用。
const migrationLockKey int64 = 0x61677379 // "agsy"

// Migration 一个 SQL 脚本。
type Migration struct {
	Version string // 文件名, 如 001_session_messages.sql
	SQL     string
}

// Source 选择迁移来源: dir 为空或不存在时使用内嵌脚本。
func Source(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		logger.Warn("migrate: directory unavailable, using embedded scripts", logger.FieldPath, dir)
		return migrations.FS
	}
	return os.DirFS(dir)
}

// LoadMigrations 读取 fsys 根目录下的 *.sql, 按版本排序。空脚本被跳过。
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, apperrors.Wrap(err, "LoadMigrations", "read migrations")
	}
	var out []Migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		raw, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, apperrors.Wrapf(err, "LoadMigrations", "read %s", e.Name())
		}
		if strings.TrimSpace(string(raw)) == "" {
			continue
		}
		out = append(out, Migration{Version: e.Name(), SQL: string(raw)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Pending 过滤掉已执行的版本, 保持顺序。
func Pending(all []Migration, applied map[string]bool) []Migration {
	var out []Migration
	for _, m := range all {
		if !applied[m.Version] {
			out = append(out, m)
		}
	}
	return out
}

// migrationTarget 迁移目标库。pgTarget 实现; 测试用内存实现。
type migrationTarget interface {
	prepare(ctx context.Context) error
	applied(ctx context.Context) (map[string]bool, error)
	apply(ctx context.Context, m Migration) (ran bool, err error)
}

// Migrate 把 fsys 中未执行的脚本按版本顺序应用到 pool。
func Migrate(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS) error {
	if pool == nil {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "Migrate", "pool is required")
	}
	all, err := LoadMigrations(fsys)
	if err != nil {
		return err
	}
	return runMigrations(ctx, pgTarget{pool: pool}, all)
}

func runMigrations(ctx context.Context, t migrationTarget, all []Migration) error {
	if err := t.prepare(ctx); err != nil {
		return err
	}
	done, err := t.applied(ctx)
	if err != nil {
		return err
	}
	todo := Pending(all, done)
	if len(todo) == 0 {
		logger.Debug("migrate: schema up to date", logger.FieldCount, len(all))
		return nil
	}
	logger.Info("migrate: applying", logger.FieldCount, len(todo))
	for _, m := range todo {
		ran, err := t.apply(ctx, m)
		if err != nil {
			return err
		}
		if ran {
			logger.Info("migrate: applied", logger.FieldVersion, m.Version)
		} else {
			logger.Debug("migrate: applied concurrently, skipped", logger.FieldVersion, m.Version)
		}
	}
	return nil
}

// ========================================
// Postgres 实现
// ========================================

type pgTarget struct{ pool *pgxpool.Pool }

func (p pgTarget) prepare(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return apperrors.Wrap(err, "Migrate", "create schema_version")
	}
	return nil
}

func (p pgTarget) applied(ctx context.Context) (map[string]bool, error) {
	rows, err := p.pool.Query(ctx, `SELECT version FROM schema_version`)
	if err != nil {
		return nil, apperrors.Wrap(err, "Migrate", "query schema_version")
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, apperrors.Wrap(err, "Migrate", "scan schema_version")
		}
		out[v] = true
	}
	return out, rows.Err()
}

func (p pgTarget) apply(ctx context.Context, m Migration) (bool, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return false, apperrors.Wrapf(err, "Migrate", "begin %s", m.Version)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
		return false, apperrors.Wrapf(err, "Migrate", "lock for %s", m.Version)
	}
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_version WHERE version=$1)`, m.Version).Scan(&exists); err != nil {
		return false, apperrors.Wrapf(err, "Migrate", "recheck %s", m.Version)
	}
	if exists {
		return false, nil
	}
	if _, err := tx.Exec(ctx, m.SQL); err != nil {
		return false, apperrors.Wrapf(err, "Migrate", "exec %s", m.Version)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, m.Version); err != nil {
		return false, apperrors.Wrapf(err, "Migrate", "record %s", m.Version)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, apperrors.Wrapf(err, "Migrate", "commit %s", m.Version)
	}
	return true, nil
}
