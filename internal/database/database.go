package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/rezwanahammad/Therapeia/internal/logger"
)

type Database struct {
	db  DBExecutor
	dsn string
}

// DBExecutor подмножество pgxpool.Pool, которое используют запросы пакета.
type DBExecutor interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

//go:embed migrations/*
var migrationsFS embed.FS // Встраивание файлов миграций

// checkConnection проверяет доступность базы данных с использованием пулa подключений.
func checkConnection(ctx context.Context, db *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("не удалось подключиться к базе данных: %w", err)
	}

	return nil
}

// New создает новый экземпляр Database, устанавливает соединение и проверяет его.
func New(ctx context.Context, dsn string) (*Database, error) {
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка при создании пула подключений: %w", err)
	}

	if err := checkConnection(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Database{db: db, dsn: dsn}, nil
}

// NewWithExecutor оборачивает готовый исполнитель запросов (пул, транзакцию или тестовую заглушку).
func NewWithExecutor(db DBExecutor) *Database {
	return &Database{db: db}
}

// RunMigrations выполняет миграции базы данных с использованием встроенных файлов миграций.
func (d *Database) RunMigrations() error {
	driver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("не удалось создать источник миграций: %w", err)
	}

	migrations, err := migrate.NewWithSourceInstance("iofs", driver, d.dsn)
	if err != nil {
		return fmt.Errorf("не удалось инициализировать миграции: %w", err)
	}
	defer migrations.Close()

	if err := migrations.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Log.Info("Новых миграций не найдено")
			return nil
		}
		return fmt.Errorf("ошибка при выполнении миграций: %w", err)
	}

	version, _, _ := migrations.Version()
	logger.Log.Info("Миграции успешно применены", zap.Uint("version", version))
	return nil
}

// Close закрывает пул подключений к базе данных.
func (d *Database) Close() {
	if pool, ok := d.db.(*pgxpool.Pool); ok && pool != nil {
		pool.Close()
	}
}
