package sql

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"digitalbucket/backend/internal/domain"
	"digitalbucket/backend/internal/storage"
)

// ========== Webhook Event Repository ==========

const eventColumns = `
	id, webhook_id, app_id, event_type, payload, resource_id, status, attempts, max_attempts,
	next_retry_at, scheduled_for, delivered_at, failed_at, response_status, response_body,
	error_message, processing_started_at, processing_ended_at, response_time, created_at, updated_at
`

// SaveWebhookEvent 保存事件记录
func (s *Store) SaveWebhookEvent(event *domain.WebhookEvent) error {
	now := time.Now()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := s.rebind(`
		INSERT INTO webhook_events (` + eventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err = s.db.Exec(query,
		event.ID,
		event.WebhookID,
		event.AppID,
		event.EventType,
		payload,
		event.ResourceID,
		event.Status,
		event.Attempts,
		event.MaxAttempts,
		event.NextRetryAt,
		event.ScheduledFor,
		event.DeliveredAt,
		event.FailedAt,
		event.ResponseStatus,
		event.ResponseBody,
		event.ErrorMessage,
		event.ProcessingStartedAt,
		event.ProcessingEndedAt,
		event.ResponseTime,
		event.CreatedAt,
		event.UpdatedAt,
	)
	return err
}

// GetWebhookEvent 根据 ID 获取事件记录
func (s *Store) GetWebhookEvent(id string) (*domain.WebhookEvent, error) {
	query := s.rebind(`SELECT ` + eventColumns + ` FROM webhook_events WHERE id = ?`)
	return s.scanEvent(s.db.QueryRow(query, id))
}

// ListWebhookEvents 按条件分页列出事件记录
func (s *Store) ListWebhookEvents(criteria domain.EventListCriteria) (*domain.EventListResult, error) {
	page, pageSize := domain.NormalizePagination(criteria.Page, criteria.PageSize)

	where := "WHERE 1=1"
	args := make([]interface{}, 0, 5)
	if criteria.WebhookID != "" {
		where += " AND webhook_id = ?"
		args = append(args, criteria.WebhookID)
	}
	if criteria.AppID != "" {
		where += " AND app_id = ?"
		args = append(args, criteria.AppID)
	}
	if criteria.Status != "" {
		where += " AND status = ?"
		args = append(args, criteria.Status)
	}
	if criteria.From != nil {
		where += " AND created_at >= ?"
		args = append(args, *criteria.From)
	}
	if criteria.To != nil {
		where += " AND created_at <= ?"
		args = append(args, *criteria.To)
	}

	var total int
	countQuery := s.rebind("SELECT COUNT(*) FROM webhook_events " + where)
	if err := s.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, err
	}

	query := s.rebind(`
		SELECT ` + eventColumns + `
		FROM webhook_events ` + where + `
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`)
	args = append(args, pageSize, (page-1)*pageSize)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.WebhookEvent, 0, pageSize)
	for rows.Next() {
		event, err := s.scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &domain.EventListResult{
		Events:     events,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
	}, nil
}

// ClaimWebhookEvent 以 (id, attempts, 非终态) 为条件抢占事件记录
//
// 条件更新保证同一条记录同一时刻只有一个执行者在投递。
// 占用超过租约时长仍未结算的记录允许重新抢占，见 storage.ClaimLeaseExpiry。
func (s *Store) ClaimWebhookEvent(id string, expectedAttempts int, now time.Time) (*domain.WebhookEvent, error) {
	query := s.rebind(`
		UPDATE webhook_events
		SET processing_started_at = ?, processing_ended_at = NULL, updated_at = ?
		WHERE id = ? AND attempts = ? AND status IN (?, ?)
		  AND (processing_started_at IS NULL OR processing_ended_at IS NOT NULL OR processing_started_at < ?)
	`)
	result, err := s.db.Exec(query, now, now, id, expectedAttempts,
		domain.EventStatusPending, domain.EventStatusRetrying,
		now.Add(-storage.ClaimLeaseExpiry))
	if err != nil {
		return nil, err
	}
	if err := requireAffected(result, storage.ErrEventConflict); err != nil {
		// 区分记录不存在与条件不满足
		if _, getErr := s.GetWebhookEvent(id); errors.Is(getErr, storage.ErrEventNotFound) {
			return nil, storage.ErrEventNotFound
		}
		return nil, err
	}
	return s.GetWebhookEvent(id)
}

// MarkWebhookEventDelivered 条件性落成功终态
func (s *Store) MarkWebhookEventDelivered(id string, expectedAttempts int, outcome domain.DeliveryOutcome) error {
	now := time.Now()
	query := s.rebind(`
		UPDATE webhook_events
		SET status = ?, attempts = attempts + 1, delivered_at = ?, next_retry_at = NULL,
		    response_status = ?, response_body = ?, error_message = ?, response_time = ?,
		    processing_ended_at = ?, updated_at = ?
		WHERE id = ? AND attempts = ? AND status IN (?, ?)
	`)
	result, err := s.db.Exec(query,
		domain.EventStatusDelivered, outcome.AttemptedAt,
		outcome.ResponseStatus, outcome.ResponseBody, outcome.ErrorMessage, outcome.ResponseTime.Milliseconds(),
		now, now,
		id, expectedAttempts, domain.EventStatusPending, domain.EventStatusRetrying,
	)
	if err != nil {
		return err
	}
	return requireAffected(result, storage.ErrEventConflict)
}

// MarkWebhookEventRetrying 条件性记一次失败并排期重试
func (s *Store) MarkWebhookEventRetrying(id string, expectedAttempts int, outcome domain.DeliveryOutcome, nextRetryAt time.Time) error {
	now := time.Now()
	query := s.rebind(`
		UPDATE webhook_events
		SET status = ?, attempts = attempts + 1, next_retry_at = ?,
		    response_status = ?, response_body = ?, error_message = ?, response_time = ?,
		    processing_ended_at = ?, updated_at = ?
		WHERE id = ? AND attempts = ? AND status IN (?, ?)
	`)
	result, err := s.db.Exec(query,
		domain.EventStatusRetrying, nextRetryAt,
		outcome.ResponseStatus, outcome.ResponseBody, outcome.ErrorMessage, outcome.ResponseTime.Milliseconds(),
		now, now,
		id, expectedAttempts, domain.EventStatusPending, domain.EventStatusRetrying,
	)
	if err != nil {
		return err
	}
	return requireAffected(result, storage.ErrEventConflict)
}

// MarkWebhookEventFailed 条件性落失败终态（重试预算耗尽）
func (s *Store) MarkWebhookEventFailed(id string, expectedAttempts int, outcome domain.DeliveryOutcome) error {
	now := time.Now()
	query := s.rebind(`
		UPDATE webhook_events
		SET status = ?, attempts = attempts + 1, failed_at = ?, next_retry_at = NULL,
		    response_status = ?, response_body = ?, error_message = ?, response_time = ?,
		    processing_ended_at = ?, updated_at = ?
		WHERE id = ? AND attempts = ? AND status IN (?, ?)
	`)
	result, err := s.db.Exec(query,
		domain.EventStatusFailed, outcome.AttemptedAt,
		outcome.ResponseStatus, outcome.ResponseBody, outcome.ErrorMessage, outcome.ResponseTime.Milliseconds(),
		now, now,
		id, expectedAttempts, domain.EventStatusPending, domain.EventStatusRetrying,
	)
	if err != nil {
		return err
	}
	return requireAffected(result, storage.ErrEventConflict)
}

// ResetWebhookEventForRetry 人工重试：重置为 pending 并立即可投
//
// 终态记录不可重置，条件里带上状态谓词，避免与并发投递竞争时
// 把刚落成 delivered 的记录重新置回 pending。
func (s *Store) ResetWebhookEventForRetry(id string, now time.Time) (*domain.WebhookEvent, error) {
	query := s.rebind(`
		UPDATE webhook_events
		SET status = ?, next_retry_at = NULL, scheduled_for = ?,
		    processing_started_at = NULL, processing_ended_at = NULL, updated_at = ?
		WHERE id = ? AND attempts < max_attempts AND status IN (?, ?)
	`)
	result, err := s.db.Exec(query, domain.EventStatusPending, now, now, id,
		domain.EventStatusPending, domain.EventStatusRetrying)
	if err != nil {
		return nil, err
	}
	if err := requireAffected(result, storage.ErrEventConflict); err != nil {
		if _, getErr := s.GetWebhookEvent(id); errors.Is(getErr, storage.ErrEventNotFound) {
			return nil, storage.ErrEventNotFound
		}
		return nil, err
	}
	return s.GetWebhookEvent(id)
}

// ListDueWebhookEvents 返回 nextRetryAt 到期的 retrying 记录，按到期时间升序
func (s *Store) ListDueWebhookEvents(now time.Time, limit int) ([]domain.WebhookEvent, error) {
	query := s.rebind(`
		SELECT ` + eventColumns + `
		FROM webhook_events
		WHERE status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?
		ORDER BY next_retry_at ASC
		LIMIT ?
	`)
	rows, err := s.db.Query(query, domain.EventStatusRetrying, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.WebhookEvent, 0, limit)
	for rows.Next() {
		event, err := s.scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

// CancelPendingEventsForWebhook 级联取消 Webhook 的全部非终态记录
func (s *Store) CancelPendingEventsForWebhook(webhookID string) (int, error) {
	query := s.rebind(`
		UPDATE webhook_events
		SET status = ?, next_retry_at = NULL, updated_at = ?
		WHERE webhook_id = ? AND status IN (?, ?)
	`)
	result, err := s.db.Exec(query, domain.EventStatusCancelled, time.Now(),
		webhookID, domain.EventStatusPending, domain.EventStatusRetrying)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	return int(affected), err
}

// DeleteTerminalEventsBefore 清理保留期之外的终态记录
func (s *Store) DeleteTerminalEventsBefore(cutoff time.Time) (int, error) {
	query := s.rebind(`
		DELETE FROM webhook_events
		WHERE status IN (?, ?, ?) AND updated_at < ?
	`)
	result, err := s.db.Exec(query,
		domain.EventStatusDelivered, domain.EventStatusFailed, domain.EventStatusCancelled, cutoff)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	return int(affected), err
}

// scanEvent 从查询结果扫描出完整的事件记录
func (s *Store) scanEvent(row rowScanner) (*domain.WebhookEvent, error) {
	var event domain.WebhookEvent
	var payload []byte
	var nextRetryAt, deliveredAt, failedAt, procStarted, procEnded sql.NullTime

	err := row.Scan(
		&event.ID,
		&event.WebhookID,
		&event.AppID,
		&event.EventType,
		&payload,
		&event.ResourceID,
		&event.Status,
		&event.Attempts,
		&event.MaxAttempts,
		&nextRetryAt,
		&event.ScheduledFor,
		&deliveredAt,
		&failedAt,
		&event.ResponseStatus,
		&event.ResponseBody,
		&event.ErrorMessage,
		&procStarted,
		&procEnded,
		&event.ResponseTime,
		&event.CreatedAt,
		&event.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(payload, &event.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if nextRetryAt.Valid {
		event.NextRetryAt = &nextRetryAt.Time
	}
	if deliveredAt.Valid {
		event.DeliveredAt = &deliveredAt.Time
	}
	if failedAt.Valid {
		event.FailedAt = &failedAt.Time
	}
	if procStarted.Valid {
		event.ProcessingStartedAt = &procStarted.Time
	}
	if procEnded.Valid {
		event.ProcessingEndedAt = &procEnded.Time
	}
	return &event, nil
}

// 断言完整实现了存储接口
var _ storage.Store = (*Store)(nil)
