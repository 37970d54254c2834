package interview

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/model"
)

// SQLiteRepository 基于 SQLite 的记录存储
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository 打开数据库并初始化表结构
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// 单连接避免 SQLITE_BUSY，写入量很小
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	repo := &SQLiteRepository{db: db, now: time.Now}
	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return repo, nil
}

func (r *SQLiteRepository) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS interviews (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			owner_name TEXT,
			kind TEXT NOT NULL,
			topic TEXT NOT NULL,
			config TEXT NOT NULL,
			feedback TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			interview_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (interview_id) REFERENCES interviews(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_interviews_owner_created ON interviews(owner, created_at DESC)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_turns_interview_seq ON turns(interview_id, seq)`,
	}
	for _, stmt := range statements {
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close 关闭数据库
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Create 在一个事务内写入记录与初始轮次
func (r *SQLiteRepository) Create(ctx context.Context, rec *model.InterviewRecord) (*model.InterviewRecord, error) {
	stored := rec.Clone()
	if stored.ID == "" {
		stored.ID = NewID()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.now().UTC()
	}

	configJSON, err := json.Marshal(stored.Config)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	feedbackJSON, err := marshalFeedback(stored.Feedback)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO interviews (id, owner, owner_name, kind, topic, config, feedback, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, stored.Owner, stored.OwnerName, string(stored.Config.Kind()), stored.Config.Topic,
		string(configJSON), feedbackJSON, stored.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert interview: %w", err)
	}
	for i := range stored.Turns {
		t := &stored.Turns[i]
		if t.ID == "" {
			t.ID = NewTurnID()
		}
		if t.Timestamp.IsZero() {
			t.Timestamp = stored.CreatedAt
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO turns (id, interview_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			t.ID, stored.ID, i+1, string(t.Role), t.Content, t.Timestamp.UTC()); err != nil {
			return nil, fmt.Errorf("insert turn: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return stored.Clone(), nil
}

// Get 读取记录及其全部轮次
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*model.InterviewRecord, error) {
	rec, err := r.scanRecord(r.db.QueryRowContext(ctx,
		`SELECT id, owner, owner_name, config, feedback, created_at FROM interviews WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	turns, err := r.loadTurns(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.Turns = turns
	return rec, nil
}

// AppendTurn 以 INSERT OR IGNORE 保证相同 turn ID 幂等
func (r *SQLiteRepository) AppendTurn(ctx context.Context, id string, turn model.ConversationTurn) (model.ConversationTurn, error) {
	if turn.ID == "" {
		turn.ID = NewTurnID()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = r.now()
	}
	turn.Timestamp = turn.Timestamp.UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.ConversationTurn{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM interviews WHERE id = ?`, id).Scan(&exists); err != nil {
		return model.ConversationTurn{}, fmt.Errorf("check interview: %w", err)
	}
	if exists == 0 {
		return model.ConversationTurn{}, ErrNotFound
	}

	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO turns (id, interview_id, seq, role, content, created_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE interview_id = ?), ?, ?, ?)`,
		turn.ID, id, id, string(turn.Role), turn.Content, turn.Timestamp)
	if err != nil {
		return model.ConversationTurn{}, fmt.Errorf("insert turn: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var existing model.ConversationTurn
		var role string
		err := tx.QueryRowContext(ctx, `SELECT id, role, content, created_at FROM turns WHERE id = ?`, turn.ID).
			Scan(&existing.ID, &role, &existing.Content, &existing.Timestamp)
		if err != nil {
			return model.ConversationTurn{}, fmt.Errorf("load existing turn: %w", err)
		}
		existing.Role = model.Role(role)
		return existing, tx.Commit()
	}
	if err := tx.Commit(); err != nil {
		return model.ConversationTurn{}, fmt.Errorf("commit: %w", err)
	}
	return turn, nil
}

// SetFeedback 写入反馈
func (r *SQLiteRepository) SetFeedback(ctx context.Context, id string, fb model.Feedback) error {
	data, err := marshalFeedback(&fb)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE interviews SET feedback = ? WHERE id = ?`, data, id)
	if err != nil {
		return fmt.Errorf("update feedback: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// List 按创建时间倒序返回记录（含轮次）
func (r *SQLiteRepository) List(ctx context.Context, owner string, limit int) ([]*model.InterviewRecord, error) {
	query := `SELECT id, owner, owner_name, config, feedback, created_at FROM interviews`
	var args []any
	if owner != "" {
		query += ` WHERE owner = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query interviews: %w", err)
	}
	var out []*model.InterviewRecord
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, rec := range out {
		if rec.Turns, err = r.loadTurns(ctx, rec.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Count 记录总数
func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM interviews`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count interviews: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRepository) scanRecord(row rowScanner) (*model.InterviewRecord, error) {
	var rec model.InterviewRecord
	var ownerName, feedback sql.NullString
	var configJSON string
	err := row.Scan(&rec.ID, &rec.Owner, &ownerName, &configJSON, &feedback, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan interview: %w", err)
	}
	rec.OwnerName = ownerName.String
	if err := json.Unmarshal([]byte(configJSON), &rec.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if feedback.Valid && feedback.String != "" {
		var fb model.Feedback
		if err := json.Unmarshal([]byte(feedback.String), &fb); err != nil {
			return nil, fmt.Errorf("unmarshal feedback: %w", err)
		}
		rec.Feedback = &fb
	}
	return &rec, nil
}

func (r *SQLiteRepository) loadTurns(ctx context.Context, id string) ([]model.ConversationTurn, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, role, content, created_at FROM turns WHERE interview_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []model.ConversationTurn
	for rows.Next() {
		var t model.ConversationTurn
		var role string
		if err := rows.Scan(&t.ID, &role, &t.Content, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Role = model.Role(role)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func marshalFeedback(fb *model.Feedback) (sql.NullString, error) {
	if fb == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(fb)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal feedback: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
