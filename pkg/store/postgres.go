package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/codeGROOVE-dev/slackin/pkg/types"
)

const usersTable = "slackin_users"

//go:embed migrations/*.sql
var migrations embed.FS

// Postgres stores each user as a JSON document keyed by lower-cased GitHub login.
type Postgres struct {
	pool    *pgxpool.Pool
	builder squirrel.StatementBuilderType
}

// NewPostgres connects, pings and migrates the database.
func NewPostgres(ctx context.Context, url string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	slog.Info("Connected to user database", "component", "store")
	return &Postgres{
		pool:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer func() {
		if err := db.Close(); err != nil {
			slog.Warn("Failed to close migration handle", "component", "store", "error", err)
		}
	}()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// Load reads all users ordered by GitHub login.
func (p *Postgres) Load(ctx context.Context) ([]types.User, error) {
	query, args, err := p.selectStatement()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []types.User
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		var u types.User
		if err := json.Unmarshal(doc, &u); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return users, nil
}

// ReplaceAll swaps the full user set inside a single transaction.
func (p *Postgres) ReplaceAll(ctx context.Context, users []types.User) error {
	del, ins, err := p.replaceStatements(users, time.Now())
	if err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Warn("Failed to roll back user replace", "component", "store", "error", err)
		}
	}()

	if _, err := tx.Exec(ctx, del.sql, del.args...); err != nil {
		return fmt.Errorf("delete users: %w", err)
	}
	if ins != nil {
		if _, err := tx.Exec(ctx, ins.sql, ins.args...); err != nil {
			return fmt.Errorf("insert users: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type statement struct {
	sql  string
	args []any
}

func (p *Postgres) selectStatement() (string, []any, error) {
	return p.builder.Select("document").From(usersTable).OrderBy("github").ToSql()
}

// replaceStatements builds the delete and (when users is non-empty) insert statements for ReplaceAll.
func (p *Postgres) replaceStatements(users []types.User, now time.Time) (statement, *statement, error) {
	delSQL, delArgs, err := p.builder.Delete(usersTable).ToSql()
	if err != nil {
		return statement{}, nil, fmt.Errorf("build delete: %w", err)
	}
	del := statement{sql: delSQL, args: delArgs}

	if len(users) == 0 {
		return del, nil, nil
	}

	insert := p.builder.Insert(usersTable).Columns("github", "document", "updated_at")
	for _, u := range users {
		doc, err := json.Marshal(u)
		if err != nil {
			return statement{}, nil, fmt.Errorf("encode user %s: %w", u.GitHub, err)
		}
		insert = insert.Values(strings.ToLower(u.GitHub), string(doc), now)
	}

	insSQL, insArgs, err := insert.ToSql()
	if err != nil {
		return statement{}, nil, fmt.Errorf("build insert: %w", err)
	}
	return del, &statement{sql: insSQL, args: insArgs}, nil
}
