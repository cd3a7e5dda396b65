package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// notifyChannel postgres 变更通知频道
const notifyChannel = "belot_kv"

// SQL 关系数据库存储
//
// sqlite 只在进程内通知变更；postgres 通过 LISTEN/NOTIFY 让多个进程共享通知。
type SQL struct {
	hub
	db     *sql.DB
	driver Driver

	listener *pq.Listener
	done     chan struct{}

	mu     sync.RWMutex
	closed bool
}

// OpenSQLite 打开 sqlite 存储并执行迁移
func OpenSQLite(ctx context.Context, path string) (*SQL, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite 路径为空")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建数据库目录失败: %w", err)
		}
	}
	if err := migrateUp(DriverSQLite, sqliteURL(path)); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}
	return &SQL{db: db, driver: DriverSQLite}, nil
}

// OpenPostgres 打开 postgres 存储，dsn 需为 postgres:// URL
func OpenPostgres(ctx context.Context, dsn string) (*SQL, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres 连接串为空")
	}
	if err := migrateUp(DriverPostgres, dsn); err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	s := &SQL{db: db, driver: DriverPostgres, done: make(chan struct{})}
	s.listener = pq.NewListener(dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			flog.Warn("postgres 通知连接事件 %d: %v", ev, err)
		}
	})
	if err := s.listener.Listen(notifyChannel); err != nil {
		s.listener.Close()
		db.Close()
		return nil, fmt.Errorf("订阅变更通知失败: %w", err)
	}
	go s.listen()
	return s, nil
}

// DB 底层连接
func (s *SQL) DB() *sql.DB {
	return s.db
}

func (s *SQL) placeholders(n, offset int) string {
	parts := make([]string, n)
	for i := range parts {
		if s.driver == DriverPostgres {
			parts[i] = fmt.Sprintf("$%d", i+1+offset)
		} else {
			parts[i] = "?"
		}
	}
	return strings.Join(parts, ", ")
}

func (s *SQL) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *SQL) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	query := "SELECT key, value FROM kv WHERE key IN (" + s.placeholders(len(keys), 0) + ")"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询存储失败: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("读取存储行失败: %w", err)
		}
		out[k] = []byte(v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("读取存储失败: %w", err)
	}
	return out, nil
}

func (s *SQL) Set(ctx context.Context, values map[string][]byte) error {
	if err := validate(values); err != nil {
		return err
	}
	if s.isClosed() {
		return ErrClosed
	}
	keys := keysOf(values)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	query := "INSERT INTO kv (key, value, updated_at) VALUES (" + s.placeholders(3, 0) + ") " +
		"ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at"
	now := time.Now().UTC()
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, query, k, string(values[k]), now); err != nil {
			return fmt.Errorf("写入 %s 失败: %w", k, err)
		}
	}
	if err := s.notifyTx(ctx, tx, keys); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	if s.driver != DriverPostgres {
		s.emit(keys)
	}
	return nil
}

func (s *SQL) Delete(ctx context.Context, keys ...string) error {
	if s.isClosed() {
		return ErrClosed
	}
	if len(keys) == 0 {
		return nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	query := "DELETE FROM kv WHERE key IN (" + s.placeholders(len(keys), 0) + ")"
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("删除失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tx.Commit()
	}
	if err := s.notifyTx(ctx, tx, keys); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	if s.driver != DriverPostgres {
		s.emit(keys)
	}
	return nil
}

// notifyTx postgres 在事务提交时投递通知
func (s *SQL) notifyTx(ctx context.Context, tx *sql.Tx, keys []string) error {
	if s.driver != DriverPostgres {
		return nil
	}
	if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", notifyChannel, strings.Join(keys, ",")); err != nil {
		return fmt.Errorf("发送变更通知失败: %w", err)
	}
	return nil
}

func (s *SQL) listen() {
	defer close(s.done)
	for n := range s.listener.Notify {
		// 重连后收到 nil，期间的变更无法得知
		if n == nil {
			continue
		}
		s.emit(strings.Split(n.Extra, ","))
	}
}

func (s *SQL) Watch(fn func(Change)) func() {
	return s.watch(fn)
}

func (s *SQL) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	if s.listener != nil {
		s.listener.Close()
		<-s.done
	}
	return s.db.Close()
}
