package postgres

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// RunMigrations применяет все незакатанные миграции из migrations/.
func RunMigrations(dbURL, schema string, logger *zap.Logger) error {
	if schema == "" {
		schema = "public"
	}

	connCfg, err := pgx.ParseConfig(dbURL)
	if err != nil {
		return fmt.Errorf("postgres: parse url for migrations: %w", err)
	}
	ident := pgx.Identifier{schema}.Sanitize()
	// search_path задаётся в параметрах каждого соединения: goose может взять из пула любое
	connCfg.RuntimeParams["search_path"] = ident

	db := stdlib.OpenDB(*connCfg)
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: unable to connect to database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+ident); err != nil {
		return fmt.Errorf("postgres: create schema %s: %w", schema, err)
	}

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}

	logger.Info("database migrations completed", zap.String("schema", schema))
	return nil
}
