package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"recording-worker/constant"
	"recording-worker/entities"
)

// RecordingRepository is the durability boundary: the core writes here
// synchronously before removing an entity from in-memory state and reads
// back to answer status queries for sessions no longer active.
type RecordingRepository interface {
	Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error
	GetDB() *gorm.DB
	SaveSession(ctx context.Context, session *entities.RecordingSession) error
	FindSessionById(ctx context.Context, id uuid.UUID) (*entities.RecordingSession, error)
	SaveJob(ctx context.Context, job *entities.TranscriptionJob) error
	FindJobById(ctx context.Context, id uuid.UUID) (*entities.TranscriptionJob, error)
	FindJobsByRecordingId(ctx context.Context, recordingId uuid.UUID) ([]*entities.TranscriptionJob, error)
	ListJobsByStatus(ctx context.Context, status constant.JobStatus) ([]*entities.TranscriptionJob, error)
	ListExpiredSessions(ctx context.Context, before time.Time) ([]*entities.RecordingSession, error)
	MarkSessionPurged(ctx context.Context, id uuid.UUID, at time.Time) error
}

type repo struct {
	db *gorm.DB
}

func NewRepo(db *sql.DB) RecordingRepository {
	gormDB, _ := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		},
	)
	return &repo{
		db: gormDB,
	}
}

func (r *repo) GetDB() *gorm.DB {
	return r.db
}

func (r *repo) Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error {
	return r.GetDB().Transaction(func(tx *gorm.DB) error {
		return callback(ctx)
	}, opts...)
}

func (r *repo) SaveSession(ctx context.Context, session *entities.RecordingSession) error {
	session.UpdatedAt = time.Now().UTC()
	return r.GetDB().WithContext(ctx).Save(session).Error
}

func (r *repo) FindSessionById(ctx context.Context, id uuid.UUID) (*entities.RecordingSession, error) {
	session := &entities.RecordingSession{}
	err := r.GetDB().WithContext(ctx).First(session, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (r *repo) SaveJob(ctx context.Context, job *entities.TranscriptionJob) error {
	job.UpdatedAt = time.Now().UTC()
	return r.GetDB().WithContext(ctx).Save(job).Error
}

func (r *repo) FindJobById(ctx context.Context, id uuid.UUID) (*entities.TranscriptionJob, error) {
	job := &entities.TranscriptionJob{}
	err := r.GetDB().WithContext(ctx).First(job, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *repo) FindJobsByRecordingId(ctx context.Context, recordingId uuid.UUID) ([]*entities.TranscriptionJob, error) {
	var jobs []*entities.TranscriptionJob
	err := r.GetDB().WithContext(ctx).Where("recording_id = ?", recordingId).Order("created_at ASC").Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *repo) ListJobsByStatus(ctx context.Context, status constant.JobStatus) ([]*entities.TranscriptionJob, error) {
	var jobs []*entities.TranscriptionJob
	err := r.GetDB().WithContext(ctx).Where("status = ?", status).Order("created_at ASC").Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *repo) ListExpiredSessions(ctx context.Context, before time.Time) ([]*entities.RecordingSession, error) {
	var sessions []*entities.RecordingSession
	err := r.GetDB().WithContext(ctx).
		Where("state IN ?", []constant.SessionState{constant.SessionStateCompleted, constant.SessionStateFailed}).
		Where("purged_at IS NULL").
		Where("ended_at IS NOT NULL AND ended_at < ?", before).
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *repo) MarkSessionPurged(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.GetDB().WithContext(ctx).
		Model(&entities.RecordingSession{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"purged_at": at, "updated_at": time.Now().UTC()}).Error
}
