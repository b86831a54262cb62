// Package telemetry keeps a local history of poll cycles in sqlite so
// an operator can see how a sensor behaved over the last days without
// querying the remote hub.
package telemetry

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fkusi/sensorhub/internal/errors"
	"github.com/fkusi/sensorhub/internal/logger"
)

type repository struct {
	db  *sql.DB
	cfg Config

	mu     sync.Mutex
	buffer []*CycleRecord

	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
}

// NewRepository opens (or creates) the history database and starts the
// background flusher.
func NewRepository(cfg Config) (Recorder, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	if err := validateAndUpdateSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Msg("Telemetry repository initialized")

	r := &repository{
		db:            db,
		cfg:           cfg,
		buffer:        make([]*CycleRecord, 0, cfg.BatchSize),
		flushTicker:   time.NewTicker(time.Duration(cfg.BatchTimeout) * time.Second),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}
	go r.flusher()

	return r, nil
}

func (r *repository) Record(ctx context.Context, rec *CycleRecord) error {
	errFactory := errors.New()

	if rec == nil {
		return errFactory.New(ErrInvalidRecord)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrRecordFailed, ctx.Err())
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = append(r.buffer, rec)
	if len(r.buffer) >= r.cfg.BatchSize {
		return r.flush()
	}
	return nil
}

func (r *repository) Close() error {
	errFactory := errors.New()

	close(r.shutdownChan)
	r.flushTicker.Stop()
	<-r.flushDoneChan

	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}
	if err := r.db.Close(); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}

	logger.Info().Msg("Telemetry repository closed")
	return nil
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			if err := r.flush(); err != nil {
				logger.Error().Err(err).Msg("Telemetry flush failed")
			}
			r.mu.Unlock()
		case <-r.shutdownChan:
			r.mu.Lock()
			if err := r.flush(); err != nil {
				logger.Error().Err(err).Msg("Final telemetry flush failed")
			}
			r.mu.Unlock()
			return
		}
	}
}

// flush writes the buffer in one transaction. Caller holds r.mu.
func (r *repository) flush() error {
	if len(r.buffer) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(insertCycleSQL)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error().Err(rbErr).Msg("Failed to roll back telemetry transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, rec := range r.buffer {
		_, err := stmt.Exec(
			rec.Timestamp.Unix(),
			rec.SensorID,
			string(rec.SensorType),
			string(rec.Status),
			rec.Reason,
			boolToInt(rec.Success),
			rec.DurationMS,
			rec.BatteryVolts,
			boolToInt(rec.RelayOn),
		)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error().Err(rbErr).Msg("Failed to roll back telemetry transaction")
			}
			return errFactory.Wrap(ErrStorageAccess, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	logger.Debug().Int("records", len(r.buffer)).Msg("Telemetry batch flushed")
	r.buffer = r.buffer[:0]
	return nil
}
