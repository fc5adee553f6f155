package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/go-sql-driver/mysql"
)

// TurnRecord 表示一次对话轮次的落库结构。
type TurnRecord struct {
	SessionID      string
	ConversationID string
	Origin         string
	Inquiry        string
	Reply          string
	ToolsInvoked   string
	Rounds         int
	ProposalCount  int
	CreatedAt      int64
}

// TurnRepository 抽象轮次数据的持久化接口。
type TurnRepository interface {
	Save(ctx context.Context, record TurnRecord) error
	ListLatest(ctx context.Context, limit int) ([]TurnRecord, error)
	Close() error
}

// MemoryTurnRepository 使用本地 JSON 文件模拟 MySQL 的效果，方便迭代开发。
type MemoryTurnRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []TurnRecord
}

// NewMemoryTurnRepository 创建一个内存轮次仓库。
func NewMemoryTurnRepository(dataDir string) (*MemoryTurnRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	path := filepath.Join(dataDir, "turns.log")
	repo := &MemoryTurnRepository{dataFile: path}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录轮次结果。
func (m *MemoryTurnRepository) Save(_ context.Context, record TurnRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开轮次日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化轮次记录失败: %w", err)
	}

	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入轮次日志失败: %w", err)
	}

	m.records = append([]TurnRecord{record}, m.records...)
	if len(m.records) > 512 {
		m.records = m.records[:512]
	}
	return nil
}

// ListLatest 返回最近的轮次记录，按时间倒序排列。
func (m *MemoryTurnRepository) ListLatest(_ context.Context, limit int) ([]TurnRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}

	results := make([]TurnRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

// Close 实现 TurnRepository 接口，内存实现无需额外清理。
func (m *MemoryTurnRepository) Close() error {
	return nil
}

func (m *MemoryTurnRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取轮次日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []TurnRecord
	for scanner.Scan() {
		var record TurnRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append([]TurnRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析轮次日志失败: %w", err)
	}

	if len(restored) > 512 {
		restored = restored[:512]
	}
	if len(restored) > 0 {
		m.records = restored
	}
	return nil
}

// SQLTurnRepository 使用真实的 MySQL 数据库存储轮次信息。
type SQLTurnRepository struct {
	db *sql.DB
}

// NewSQLTurnRepository 创建连接池并执行 schema 迁移。
func NewSQLTurnRepository(ctx context.Context, cfg Config) (*SQLTurnRepository, error) {
	db, err := openPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	repo := &SQLTurnRepository{db: db}
	if err := repo.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// Save 将轮次记录写入 MySQL。
func (s *SQLTurnRepository) Save(ctx context.Context, record TurnRecord) error {
	const stmt = `INSERT INTO turns
        (session_id, conversation_id, origin, inquiry, reply, tools_invoked, rounds, proposal_count, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		record.SessionID,
		record.ConversationID,
		record.Origin,
		record.Inquiry,
		record.Reply,
		record.ToolsInvoked,
		record.Rounds,
		record.ProposalCount,
		record.CreatedAt,
	); err != nil {
		return fmt.Errorf("写入 MySQL 失败: %w", err)
	}
	return nil
}

// ListLatest 查询最近的若干条轮次记录。
func (s *SQLTurnRepository) ListLatest(ctx context.Context, limit int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `SELECT session_id, conversation_id, origin, inquiry, reply, tools_invoked, rounds, proposal_count, created_at
        FROM turns ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询轮次记录失败: %w", err)
	}
	defer rows.Close()

	var records []TurnRecord
	for rows.Next() {
		var record TurnRecord
		if err := rows.Scan(&record.SessionID, &record.ConversationID, &record.Origin, &record.Inquiry, &record.Reply, &record.ToolsInvoked, &record.Rounds, &record.ProposalCount, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析轮次记录失败: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历轮次记录失败: %w", err)
	}

	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLTurnRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
