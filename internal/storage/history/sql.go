package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mailaudit/backend/internal/config"
	"mailaudit/backend/internal/domain"
)

// SQLStore 查询历史的数据库实现（MySQL 5.7+ / PostgreSQL）
type SQLStore struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open 打开数据库连接、配置连接池并迁移 query_history 表
func Open(cfg config.DatabaseConfig, log *zap.Logger) (*SQLStore, error) {
	if cfg.Type != "mysql" && cfg.Type != "postgres" {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", cfg.Type)
	}

	db, err := sql.Open(cfg.Type, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	var dialector gorm.Dialector
	if cfg.Type == "mysql" {
		dialector = mysql.New(mysql.Config{Conn: db})
	} else {
		dialector = postgres.New(postgres.Config{Conn: db})
	}

	gormDB, err := gorm.Open(dialector, gormConfig())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize GORM: %w", err)
	}

	if err := gormDB.AutoMigrate(&domain.QueryRecord{}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	store := NewSQLStore(gormDB, log)
	store.log.Info("query history database ready", zap.String("type", cfg.Type))
	return store, nil
}

// NewSQLStore 使用已有的 GORM 连接创建存储，不执行迁移
func NewSQLStore(db *gorm.DB, log *zap.Logger) *SQLStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &SQLStore{db: db, log: log.Named("history")}
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Save 保存记录
func (s *SQLStore) Save(ctx context.Context, record *domain.QueryRecord) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to save query record: %w", err)
	}
	return nil
}

// ListRecent 按创建时间倒序返回
func (s *SQLStore) ListRecent(ctx context.Context, limit int, requester string) ([]domain.QueryRecord, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC").Limit(normalizeLimit(limit))
	if requester != "" {
		query = query.Where("requester = ?", requester)
	}

	var records []domain.QueryRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list query records: %w", err)
	}
	return records, nil
}

// Health 检查数据库连接
func (s *SQLStore) Health(ctx context.Context) error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *SQLStore) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
