package mysql

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"DeSmond-Agent/deploy/migrations"
)

const versionTableDDL = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version VARCHAR(32) NOT NULL PRIMARY KEY,
    applied_at BIGINT NOT NULL
)`

type migrationFile struct {
	version    string
	name       string
	statements []string
}

// runMigrations 启动时把尚未应用的内置迁移补齐。每个迁移文件在独立事务中
// 执行, 版本号写入 schema_migrations 后才算完成。
func (s *SQLTurnRepository) runMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, versionTableDDL); err != nil {
		return fmt.Errorf("初始化迁移版本表失败: %w", err)
	}

	files, err := loadMigrationFiles()
	if err != nil {
		return err
	}

	for _, file := range files {
		done, err := s.versionApplied(ctx, file.version)
		if err != nil {
			return err
		}
		if done {
			continue
		}
		if err := s.applyMigration(ctx, file); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLTurnRepository) versionApplied(ctx context.Context, version string) (bool, error) {
	var count int
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version)
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("查询迁移版本 %s 失败: %w", version, err)
	}
	return count > 0, nil
}

func (s *SQLTurnRepository) applyMigration(ctx context.Context, file migrationFile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启迁移事务失败: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range file.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("执行迁移 %s 失败: %w", file.name, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
		file.version, time.Now().Unix()); err != nil {
		return fmt.Errorf("记录迁移版本 %s 失败: %w", file.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交迁移 %s 失败: %w", file.name, err)
	}
	return nil
}

// loadMigrationFiles 读取内置的 *.sql 迁移, 按版本号升序返回。
// 空文件直接跳过。
func loadMigrationFiles() ([]migrationFile, error) {
	names, err := fs.Glob(migrations.SQL, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("枚举迁移文件失败: %w", err)
	}
	sort.Strings(names)

	files := make([]migrationFile, 0, len(names))
	for _, name := range names {
		raw, err := migrations.SQL.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("读取迁移文件 %s 失败: %w", name, err)
		}
		statements := splitSQLStatements(string(raw))
		if len(statements) == 0 {
			continue
		}
		files = append(files, migrationFile{
			version:    parseMigrationVersion(name),
			name:       name,
			statements: statements,
		})
	}
	return files, nil
}

// splitSQLStatements 按分号切分脚本, 丢弃空白片段。
func splitSQLStatements(script string) []string {
	var statements []string
	for _, piece := range strings.Split(script, ";") {
		if stmt := strings.TrimSpace(piece); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}

// parseMigrationVersion 取文件名首个下划线之前的部分作为版本号,
// 没有下划线时退回到去掉扩展名的文件名。
func parseMigrationVersion(name string) string {
	if idx := strings.IndexRune(name, '_'); idx > 0 {
		return name[:idx]
	}
	if dot := strings.IndexRune(name, '.'); dot > 0 {
		return name[:dot]
	}
	return name
}
