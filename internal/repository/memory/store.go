package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"verifyflow/internal/model"
	"verifyflow/internal/repository"
	"verifyflow/internal/verification"
	pkgerrors "verifyflow/pkg/errors"
)

// Op 存储操作名，用于故障注入和调用计数
type Op string

const (
	OpReadProgress   Op = "read_progress"
	OpUpsertProgress Op = "upsert_progress"
	OpReadStepData   Op = "read_step_data"
	OpWriteStepData  Op = "write_step_data"
	OpListProgress   Op = "list_progress"
)

type fault struct {
	err       error
	remaining int
}

// Store 进程内实现，本地运行和测试使用
type Store struct {
	mu sync.Mutex

	registry *verification.Registry
	now      func() time.Time

	progress map[string]*model.VerificationProgress
	data     map[string]model.StepData

	faults map[Op]*fault
	calls  map[Op]int
}

var _ repository.ProgressStore = (*Store)(nil)

func NewStore(reg *verification.Registry) *Store {
	return &Store{
		registry: reg,
		now:      time.Now,
		progress: map[string]*model.VerificationProgress{},
		data:     map[string]model.StepData{},
		faults:   map[Op]*fault{},
		calls:    map[Op]int{},
	}
}

// WithClock 替换时间源
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// FailNext 让接下来 times 次 op 调用返回 err；times <= 0 表示一直失败直到 ClearFaults
func (s *Store) FailNext(op Op, err error, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = &fault{err: err, remaining: times}
}

// ClearFaults 清除全部注入的故障
func (s *Store) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = map[Op]*fault{}
}

// Calls 返回某个操作被调用的次数（包括失败的调用）
func (s *Store) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Seed 直接写入进度和数据，绕过状态机
func (s *Store) Seed(p *model.VerificationProgress, data model.StepData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p != nil {
		s.progress[p.ProviderID] = p.Clone()
		s.data[p.ProviderID] = data.Clone()
	}
}

// enter 调用方需持有锁
func (s *Store) enter(op Op) error {
	s.calls[op]++
	f, ok := s.faults[op]
	if !ok {
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
		if f.remaining == 0 {
			delete(s.faults, op)
		}
	}
	return f.err
}

func (s *Store) ReadProgress(ctx context.Context, providerID string) (*model.VerificationProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpReadProgress); err != nil {
		return nil, err
	}

	p, ok := s.progress[providerID]
	if !ok {
		return nil, pkgerrors.ProgressNotFound
	}
	out := p.Clone()
	out.StepsCompleted = out.StepsCompleted.Normalize(s.registry.Count())
	return out, nil
}

func (s *Store) UpsertProgress(ctx context.Context, providerID string, patch repository.ProgressPatch) (*model.VerificationProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpUpsertProgress); err != nil {
		return nil, err
	}

	now := s.now()
	row, ok := s.progress[providerID]
	if ok {
		row = row.Clone()
	} else {
		row = model.NewDefaultProgress(providerID, s.registry.Count(), now)
	}

	// 在副本上应用，失败时原值不变
	if err := patch.Apply(row, s.registry, now); err != nil {
		return nil, err
	}
	s.progress[providerID] = row
	return row.Clone(), nil
}

func (s *Store) ReadStepData(ctx context.Context, providerID string, step int) (model.StepData, error) {
	if err := ctx.Err(); err != nil {
		return model.StepData{}, err
	}
	st, err := s.registry.Step(step)
	if err != nil {
		return model.StepData{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpReadStepData); err != nil {
		return model.StepData{}, err
	}
	return repository.ProjectStep(s.data[providerID], st.Key), nil
}

func (s *Store) ReadAllStepData(ctx context.Context, providerID string) (model.StepData, error) {
	if err := ctx.Err(); err != nil {
		return model.StepData{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpReadStepData); err != nil {
		return model.StepData{}, err
	}
	return s.data[providerID].Clone(), nil
}

func (s *Store) WriteStepData(ctx context.Context, providerID string, step int, payload *model.StepPayload) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := s.registry.Step(step); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpWriteStepData); err != nil {
		return nil, err
	}

	tables := repository.TablesForPayload(payload)
	if len(tables) == 0 {
		return nil, nil
	}
	s.data[providerID] = s.mergeData(providerID, payload, s.now())
	return tables, nil
}

// CommitStep 两个写入都在锁内先作用于副本，全部成功后才替换
func (s *Store) CommitStep(
	ctx context.Context,
	providerID string,
	step int,
	payload *model.StepPayload,
	patch repository.ProgressPatch,
) ([]string, *model.VerificationProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if _, err := s.registry.Step(step); err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if payload != nil {
		if err := s.enter(OpWriteStepData); err != nil {
			return nil, nil, err
		}
	}
	if err := s.enter(OpUpsertProgress); err != nil {
		return nil, nil, err
	}

	now := s.now()
	tables := repository.TablesForPayload(payload)
	row, ok := s.progress[providerID]
	if ok {
		row = row.Clone()
	} else {
		row = model.NewDefaultProgress(providerID, s.registry.Count(), now)
	}
	if err := patch.Apply(row, s.registry, now); err != nil {
		return nil, nil, err
	}

	if len(tables) > 0 {
		s.data[providerID] = s.mergeData(providerID, payload, now)
	}
	s.progress[providerID] = row
	return tables, row.Clone(), nil
}

// mergeData 调用方需持有锁
func (s *Store) mergeData(providerID string, payload *model.StepPayload, now time.Time) model.StepData {
	merged := s.data[providerID].Apply(payload)
	if payload.Terms != nil && merged.Terms.TermsAccepted && merged.Terms.AcceptedAt == nil {
		at := now
		merged.Terms.AcceptedAt = &at
	}
	return merged
}

func (s *Store) ListProgress(ctx context.Context, filter repository.ListFilter) ([]model.VerificationProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpListProgress); err != nil {
		return nil, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	statuses := map[model.VerificationStatus]bool{}
	for _, st := range filter.Statuses {
		statuses[st] = true
	}

	ids := make([]string, 0, len(s.progress))
	for id := range s.progress {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []model.VerificationProgress
	for _, id := range ids {
		if id <= filter.AfterProviderID {
			continue
		}
		p := s.progress[id]
		if len(statuses) > 0 && !statuses[p.VerificationStatus] {
			continue
		}
		if !filter.UpdatedBefore.IsZero() && !p.UpdatedAt.Before(filter.UpdatedBefore) {
			continue
		}
		out = append(out, *p.Clone())
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
