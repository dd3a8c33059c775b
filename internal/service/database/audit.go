package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/kapu/iris-dispatch-go/internal/dispatch"
	"github.com/kapu/iris-dispatch-go/internal/domain"
)

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// AuditRepository owns the postgres connection it appends dispatch
// outcomes to. It stores who invoked what and how it ended, never the
// command definitions themselves.
type AuditRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open connects to postgres with a pool sized for the audit log's
// append-only write stream.
func Open(cfg Config, logger *zap.Logger) (*AuditRepository, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	logger.Info("Audit database connected",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Database),
	)

	return &AuditRepository{db: db, logger: logger}, nil
}

func (r *AuditRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS dispatch_audit (
			id BIGSERIAL PRIMARY KEY,
			room TEXT NOT NULL,
			sender TEXT NOT NULL,
			command TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL,
			elapsed_ms BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	return err
}

func (r *AuditRepository) Record(ctx context.Context, msg *domain.Message, res *dispatch.Result, elapsed time.Duration) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO dispatch_audit (room, sender, command, outcome, elapsed_ms)
		VALUES ($1, $2, $3, $4, $5)`,
		msg.Room, msg.Sender, res.Command, res.Code.String(), elapsed.Milliseconds(),
	)
	if err != nil {
		r.logger.Warn("Failed to record dispatch audit",
			zap.String("room", msg.Room),
			zap.Error(err),
		)
	}
	return err
}

func (r *AuditRepository) Close() error {
	return r.db.Close()
}
