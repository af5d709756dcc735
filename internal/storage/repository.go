package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultLimit = 200
	maxLimit     = 5000

	defaultDeleteLimit = 500
	maxDeleteLimit     = 900
)

// ErrCheckpointNotFound 表示该 thread 还没有任何快照
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// -----------------------------------------------------------------------------
// Checkpoints
// -----------------------------------------------------------------------------

type CheckpointQuery struct {
	// Status 精确匹配线程阶段，空表示不过滤。
	Status string
	// UpdatedBefore 仅返回 UpdatedAt 早于该时间的快照。
	UpdatedBefore *time.Time
	Limit         int
	// Desc 按 UpdatedAt 倒序返回。
	Desc bool
}

// SaveCheckpoint 按 ThreadID 覆盖写入最新快照
func (s *Storage) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if cp == nil {
		return errors.New("checkpoint is nil")
	}
	if cp.ThreadID == "" {
		return errors.New("checkpoint thread id is required")
	}
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "thread_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "last_node", "state_json", "updated_at"}),
	}).Create(cp).Error
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *Storage) GetCheckpoint(ctx context.Context, threadID string) (*Checkpoint, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	var cp Checkpoint
	err := s.db.WithContext(ctx).Where("thread_id = ?", threadID).Take(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return &cp, nil
}

func (s *Storage) QueryCheckpoints(ctx context.Context, q CheckpointQuery) ([]Checkpoint, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}

	db := s.db.WithContext(ctx).Model(&Checkpoint{})
	if q.Status != "" {
		db = db.Where("status = ?", q.Status)
	}
	if q.UpdatedBefore != nil {
		db = db.Where("updated_at < ?", *q.UpdatedBefore)
	}
	if q.Desc {
		db = db.Order("updated_at DESC")
	} else {
		db = db.Order("updated_at ASC")
	}
	db = db.Limit(normalizeLimit(q.Limit))

	var out []Checkpoint
	if err := db.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	return out, nil
}

func (s *Storage) DeleteCheckpoint(ctx context.Context, threadID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}
	res := s.db.WithContext(ctx).Where("thread_id = ?", threadID).Delete(&Checkpoint{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete checkpoint: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteCheckpointsBeforeLimited 删除 UpdatedAt 早于 before 且状态在 statuses 中的快照，每次最多 limit 条
func (s *Storage) DeleteCheckpointsBeforeLimited(ctx context.Context, before time.Time, statuses []string, limit int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}

	limit = normalizeDeleteLimit(limit)

	db := s.db.WithContext(ctx).Model(&Checkpoint{}).
		Select("thread_id").
		Where("updated_at < ?", before)
	if len(statuses) > 0 {
		db = db.Where("status IN ?", statuses)
	}

	var ids []string
	if err := db.Order("updated_at ASC").Limit(limit).Find(&ids).Error; err != nil {
		return 0, fmt.Errorf("select checkpoint ids: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res := s.db.WithContext(ctx).Where("thread_id IN ?", ids).Delete(&Checkpoint{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete checkpoints: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Storage) CountCheckpoints(ctx context.Context) (int64, error) {
	return s.count(ctx, &Checkpoint{})
}

// -----------------------------------------------------------------------------
// Authorization records
// -----------------------------------------------------------------------------

type AuthorizationQuery struct {
	RequestID string
	ThreadID  string
	UserID    string
	Status    string
	Limit     int
	// Desc 按 RequestedAt 倒序返回。
	Desc bool
}

func (s *Storage) InsertAuthorizationRecord(ctx context.Context, rec *AuthorizationRecord) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if rec == nil {
		return errors.New("authorization record is nil")
	}
	now := time.Now().UTC()
	if rec.RequestedAt.IsZero() {
		rec.RequestedAt = now
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("insert authorization record: %w", err)
	}
	return nil
}

// ResolveAuthorizationRecords 将同一 RequestID 的所有记录更新为终态
func (s *Storage) ResolveAuthorizationRecords(ctx context.Context, requestID, status, reason string, resolvedAt time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}
	res := s.db.WithContext(ctx).Model(&AuthorizationRecord{}).
		Where("request_id = ?", requestID).
		Updates(map[string]interface{}{
			"status":      status,
			"reason":      reason,
			"resolved_at": resolvedAt,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("resolve authorization record: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Storage) QueryAuthorizationRecords(ctx context.Context, q AuthorizationQuery) ([]AuthorizationRecord, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}

	db := s.db.WithContext(ctx).Model(&AuthorizationRecord{})
	if q.RequestID != "" {
		db = db.Where("request_id = ?", q.RequestID)
	}
	if q.ThreadID != "" {
		db = db.Where("thread_id = ?", q.ThreadID)
	}
	if q.UserID != "" {
		db = db.Where("user_id = ?", q.UserID)
	}
	if q.Status != "" {
		db = db.Where("status = ?", q.Status)
	}
	if q.Desc {
		db = db.Order("requested_at DESC").Order("id DESC")
	} else {
		db = db.Order("requested_at ASC").Order("id ASC")
	}
	db = db.Limit(normalizeLimit(q.Limit))

	var out []AuthorizationRecord
	if err := db.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query authorization records: %w", err)
	}
	return out, nil
}

func (s *Storage) DeleteAuthorizationRecordsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}

	limit = normalizeDeleteLimit(limit)

	var ids []uint64
	db := s.db.WithContext(ctx).Model(&AuthorizationRecord{}).
		Select("id").
		Where("requested_at < ?", before).
		Where("status <> ?", AuthorizationStatusPending).
		Order("id ASC").
		Limit(limit)
	if err := db.Find(&ids).Error; err != nil {
		return 0, fmt.Errorf("select authorization record ids: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&AuthorizationRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete authorization records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Storage) CountAuthorizationRecords(ctx context.Context) (int64, error) {
	return s.count(ctx, &AuthorizationRecord{})
}

// -----------------------------------------------------------------------------
// Audit records
// -----------------------------------------------------------------------------

// AuditQuery 用于查询审计记录的过滤条件，零值字段不参与过滤。
type AuditQuery struct {
	TraceID  string
	ThreadID string
	Action   string
	Status   string
	// From/To 过滤 CreatedAt 区间：[From, To]（两端包含）。
	From  *time.Time
	To    *time.Time
	Limit int
	Desc  bool
}

func (s *Storage) InsertAuditRecord(ctx context.Context, rec *AuditRecord) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if rec == nil {
		return errors.New("audit record is nil")
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (s *Storage) QueryAuditRecords(ctx context.Context, q AuditQuery) ([]AuditRecord, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}

	db := s.db.WithContext(ctx).Model(&AuditRecord{})
	if q.TraceID != "" {
		db = db.Where("trace_id = ?", q.TraceID)
	}
	if q.ThreadID != "" {
		db = db.Where("thread_id = ?", q.ThreadID)
	}
	if q.Action != "" {
		db = db.Where("action = ?", q.Action)
	}
	if q.Status != "" {
		db = db.Where("status = ?", q.Status)
	}
	if q.From != nil {
		db = db.Where("created_at >= ?", *q.From)
	}
	if q.To != nil {
		db = db.Where("created_at <= ?", *q.To)
	}
	if q.Desc {
		db = db.Order("created_at DESC").Order("id DESC")
	} else {
		db = db.Order("created_at ASC").Order("id ASC")
	}
	db = db.Limit(normalizeLimit(q.Limit))

	var out []AuditRecord
	if err := db.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	return out, nil
}

type AuditUpdate struct {
	Status       *string
	ResultJSON   *string
	ErrorMessage *string
	FinishedAt   *time.Time
}

func (s *Storage) UpdateAuditRecord(ctx context.Context, id uint64, up AuditUpdate) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}

	updates := make(map[string]interface{})
	if up.Status != nil {
		updates["status"] = *up.Status
	}
	if up.ResultJSON != nil {
		updates["result_json"] = *up.ResultJSON
	}
	if up.ErrorMessage != nil {
		updates["error_message"] = *up.ErrorMessage
	}
	if up.FinishedAt != nil {
		updates["finished_at"] = *up.FinishedAt
	}

	if len(updates) == 0 {
		return nil
	}

	res := s.db.WithContext(ctx).Model(&AuditRecord{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update audit record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFoundError{Entity: "audit record", ID: id}
	}
	return nil
}

func (s *Storage) DeleteAuditRecordsBefore(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}
	res := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&AuditRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete audit records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Storage) DeleteAuditRecordsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}

	limit = normalizeDeleteLimit(limit)

	var ids []uint64
	db := s.db.WithContext(ctx).Model(&AuditRecord{}).
		Select("id").
		Where("created_at < ?", before).
		Order("id ASC").
		Limit(limit)
	if err := db.Find(&ids).Error; err != nil {
		return 0, fmt.Errorf("select audit record ids: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&AuditRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete audit records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteAuditRecordsKeepLatest 只保留最新的 keep 条审计记录
func (s *Storage) DeleteAuditRecordsKeepLatest(ctx context.Context, keep int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}
	if keep <= 0 {
		res := s.db.WithContext(ctx).Where("1 = 1").Delete(&AuditRecord{})
		if res.Error != nil {
			return 0, fmt.Errorf("delete audit records: %w", res.Error)
		}
		return res.RowsAffected, nil
	}

	keepIDs := s.db.Model(&AuditRecord{}).Select("id").Order("id DESC").Limit(keep)
	res := s.db.WithContext(ctx).Where("id NOT IN (?)", keepIDs).Delete(&AuditRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete audit records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Storage) CountAuditRecords(ctx context.Context) (int64, error) {
	return s.count(ctx, &AuditRecord{})
}

func (s *Storage) count(ctx context.Context, model interface{}) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(model).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func normalizeLimit(v int) int {
	if v <= 0 {
		return defaultLimit
	}
	if v > maxLimit {
		return maxLimit
	}
	return v
}

func normalizeDeleteLimit(v int) int {
	if v <= 0 {
		return defaultDeleteLimit
	}
	if v > maxDeleteLimit {
		return maxDeleteLimit
	}
	return v
}

type notFoundError struct {
	Entity string
	ID     uint64
}

func (e notFoundError) Error() string {
	return fmt.Sprintf("%s not found: %d", e.Entity, e.ID)
}
