package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/plugin/dbresolver"

	"verifyflow/internal/model"
	"verifyflow/internal/verification"
	pkgerrors "verifyflow/pkg/errors"
)

// GormStore PostgreSQL 实现
type GormStore struct {
	db       *gorm.DB
	registry *verification.Registry
	now      func() time.Time
}

// NewGormStore db 可以注册了 dbresolver，扫描类查询会走只读副本
func NewGormStore(db *gorm.DB, reg *verification.Registry) *GormStore {
	return &GormStore{db: db, registry: reg, now: dbNow}
}

// dbNow 与 timestamptz 的微秒精度一致，返回给调用方的时间和再次读出的相等
func dbNow() time.Time {
	return time.Now().Truncate(time.Microsecond)
}

var _ ProgressStore = (*GormStore)(nil)

func (s *GormStore) ReadProgress(ctx context.Context, providerID string) (*model.VerificationProgress, error) {
	var row model.VerificationProgress
	// 读自己刚写入的数据，固定走主库
	err := s.db.WithContext(ctx).
		Clauses(dbresolver.Write).
		Where("provider_id = ?", providerID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.ProgressNotFound
	}
	if err != nil {
		return nil, classify("read progress", err)
	}
	row.StepsCompleted = row.StepsCompleted.Normalize(s.registry.Count())
	return &row, nil
}

func (s *GormStore) UpsertProgress(ctx context.Context, providerID string, patch ProgressPatch) (*model.VerificationProgress, error) {
	var out *model.VerificationProgress
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		row, err := s.lockProgress(tx, providerID, now)
		if err != nil {
			return err
		}
		out, err = s.applyPatch(tx, row, patch, now)
		return err
	})
	if err != nil {
		return nil, classify("upsert progress", err)
	}
	return out, nil
}

// CommitStep 先锁进度行，再写步骤数据并更新进度，全部在一个事务里
func (s *GormStore) CommitStep(
	ctx context.Context,
	providerID string,
	step int,
	payload *model.StepPayload,
	patch ProgressPatch,
) ([]string, *model.VerificationProgress, error) {
	if _, err := s.registry.Step(step); err != nil {
		return nil, nil, err
	}
	tables := TablesForPayload(payload)

	var out *model.VerificationProgress
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		row, err := s.lockProgress(tx, providerID, now)
		if err != nil {
			return err
		}
		if len(tables) > 0 {
			if err := writeStepDataTx(tx, providerID, payload, now); err != nil {
				return err
			}
		}
		out, err = s.applyPatch(tx, row, patch, now)
		return err
	})
	if err != nil {
		return nil, nil, classify("commit step", err)
	}
	return tables, out, nil
}

// lockProgress 首次写入时并发插入依赖主键冲突去重，随后统一加行锁
func (s *GormStore) lockProgress(tx *gorm.DB, providerID string, now time.Time) (*model.VerificationProgress, error) {
	seed := model.NewDefaultProgress(providerID, s.registry.Count(), now)
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(seed).Error; err != nil {
		return nil, err
	}

	var row model.VerificationProgress
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("provider_id = ?", providerID).
		Take(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *GormStore) applyPatch(tx *gorm.DB, row *model.VerificationProgress, patch ProgressPatch, now time.Time) (*model.VerificationProgress, error) {
	if err := patch.Apply(row, s.registry, now); err != nil {
		return nil, err
	}
	if err := tx.Save(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (s *GormStore) ListProgress(ctx context.Context, filter ListFilter) ([]model.VerificationProgress, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}

	q := s.db.WithContext(ctx).Clauses(dbresolver.Read).Model(&model.VerificationProgress{})
	if len(filter.Statuses) > 0 {
		q = q.Where("verification_status IN ?", filter.Statuses)
	}
	if !filter.UpdatedBefore.IsZero() {
		q = q.Where("updated_at < ?", filter.UpdatedBefore)
	}
	if filter.AfterProviderID != "" {
		q = q.Where("provider_id > ?", filter.AfterProviderID)
	}

	var rows []model.VerificationProgress
	if err := q.Order("provider_id ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, classify("list progress", err)
	}
	return rows, nil
}
