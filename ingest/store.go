package ingest

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Store is the persistence boundary of the pipeline.
type Store interface {
	// FindCompletedUpload returns the completed upload for filename, or nil.
	FindCompletedUpload(ctx context.Context, filename string) (*Upload, error)
	BeginUpload(ctx context.Context, u *Upload) error
	// KnownDevices returns the subset of keys that already have a device row.
	KnownDevices(ctx context.Context, keys []string) (map[string]struct{}, error)
	WriteBatch(ctx context.Context, batch *RecordBatch) error
	FinishUpload(ctx context.Context, uploadID string, outcome UploadOutcome) error
	// DiscardUpload deletes every record written under uploadID.
	DiscardUpload(ctx context.Context, uploadID string) error
	ListUploads(ctx context.Context, limit int) ([]Upload, error)
}

const writeBatchSize = 500

func OpenDB(driver string, dsn string, log logrus.FieldLogger) (*gorm.DB, error) {
	if log == nil {
		log = NewNopLogger()
	}
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(sqliteDSN(dsn))
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, errors.Errorf("unsupported database driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(log, gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "database handle")
	}
	configurePool(sqlDB, dialector.Name())
	if err := db.AutoMigrate(&Upload{}, &Device{}, &Credential{}, &PasswordStat{}, &Software{}, &DeviceFile{}); err != nil {
		return nil, errors.Wrap(err, "migrate schema")
	}
	return db, nil
}

const (
	mysqlMaxOpenConns    = 20
	mysqlMaxIdleConns    = 10
	mysqlConnMaxLifetime = time.Hour
	mysqlConnMaxIdleTime = 10 * time.Minute
)

func configurePool(sqlDB *sql.DB, dialect string) {
	switch dialect {
	case "sqlite":
		// sqlite allows one writer; archives processed in parallel queue here.
		sqlDB.SetMaxOpenConns(1)
	case "mysql":
		sqlDB.SetMaxIdleConns(mysqlMaxIdleConns)
		sqlDB.SetMaxOpenConns(mysqlMaxOpenConns)
		sqlDB.SetConnMaxLifetime(mysqlConnMaxLifetime)
		sqlDB.SetConnMaxIdleTime(mysqlConnMaxIdleTime)
	}
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// GormStore implements Store on top of gorm.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) DB() *gorm.DB { return s.db }

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) FindCompletedUpload(ctx context.Context, filename string) (*Upload, error) {
	var u Upload
	err := s.db.WithContext(ctx).
		Where("filename = ? AND status = ?", filename, StatusCompleted).
		Order("id desc").
		First(&u).Error
	if err == nil {
		return &u, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, errors.Wrap(err, "query uploads")
}

func (s *GormStore) BeginUpload(ctx context.Context, u *Upload) error {
	if u.Status == "" {
		u.Status = StatusProcessing
	}
	return errors.Wrap(s.db.WithContext(ctx).Create(u).Error, "create upload")
}

func (s *GormStore) KnownDevices(ctx context.Context, keys []string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	for start := 0; start < len(keys); start += writeBatchSize {
		end := start + writeBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		var found []string
		if err := s.db.WithContext(ctx).Model(&Device{}).
			Where("device_id IN ?", keys[start:end]).
			Distinct().
			Pluck("device_id", &found).Error; err != nil {
			return nil, errors.Wrap(err, "query devices")
		}
		for _, k := range found {
			out[k] = struct{}{}
		}
	}
	return out, nil
}

func (s *GormStore) WriteBatch(ctx context.Context, batch *RecordBatch) error {
	if batch == nil || batch.Empty() {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(batch.Devices) > 0 {
			if err := tx.CreateInBatches(&batch.Devices, writeBatchSize).Error; err != nil {
				return errors.Wrap(err, "insert devices")
			}
		}
		if len(batch.Credentials) > 0 {
			if err := tx.CreateInBatches(&batch.Credentials, writeBatchSize).Error; err != nil {
				return errors.Wrap(err, "insert credentials")
			}
		}
		if len(batch.PasswordStats) > 0 {
			if err := tx.CreateInBatches(&batch.PasswordStats, writeBatchSize).Error; err != nil {
				return errors.Wrap(err, "insert password stats")
			}
		}
		if len(batch.Software) > 0 {
			if err := tx.CreateInBatches(&batch.Software, writeBatchSize).Error; err != nil {
				return errors.Wrap(err, "insert software")
			}
		}
		if len(batch.Files) > 0 {
			if err := tx.CreateInBatches(&batch.Files, writeBatchSize).Error; err != nil {
				return errors.Wrap(err, "insert files")
			}
		}
		return nil
	})
}

func (s *GormStore) FinishUpload(ctx context.Context, uploadID string, outcome UploadOutcome) error {
	now := time.Now().UTC()
	counts := outcome.Counts
	err := s.db.WithContext(ctx).Model(&Upload{}).
		Where("upload_id = ?", uploadID).
		Updates(map[string]any{
			"status":            outcome.Status,
			"structure_type":    string(outcome.Structure),
			"devices_found":     counts.DevicesFound,
			"devices_processed": counts.DevicesProcessed,
			"devices_skipped":   counts.DevicesSkipped,
			"devices_failed":    counts.DevicesFailed,
			"systems_count":     counts.SystemsCount,
			"credentials_count": counts.CredentialsCount,
			"software_count":    counts.SoftwareCount,
			"files_count":       counts.FilesCount,
			"error_message":     outcome.Error,
			"completed_at":      &now,
		}).Error
	return errors.Wrap(err, "update upload")
}

func (s *GormStore) DiscardUpload(ctx context.Context, uploadID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&Credential{}, &PasswordStat{}, &Software{}, &DeviceFile{}, &Device{}} {
			if err := tx.Where("upload_id = ?", uploadID).Delete(model).Error; err != nil {
				return errors.Wrap(err, "discard upload records")
			}
		}
		return nil
	})
}

func (s *GormStore) ListUploads(ctx context.Context, limit int) ([]Upload, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []Upload
	err := s.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&out).Error
	return out, errors.Wrap(err, "list uploads")
}
