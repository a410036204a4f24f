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

// ========== Webhook Repository ==========

const webhookColumns = `
	id, app_id, name, url, description, events, secret, status, method, content_type,
	timeout, headers, retry_config, filters, rate_limit,
	stat_total_sent, stat_total_successful, stat_total_failed, stat_total_response_time,
	stat_last_successful_delivery, stat_last_failed_delivery, stat_last_delivery_attempt,
	last_tested_at, last_test_result, created_at, updated_at
`

// SaveWebhook 保存 Webhook
func (s *Store) SaveWebhook(webhook *domain.Webhook) error {
	now := time.Now()
	if webhook.CreatedAt.IsZero() {
		webhook.CreatedAt = now
	}
	webhook.UpdatedAt = now

	events, err := json.Marshal(webhook.Events)
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}
	headers, err := marshalNullable(webhook.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}
	retryConfig, err := json.Marshal(webhook.RetryConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal retry config: %w", err)
	}
	filters, err := marshalNullable(webhook.Filters)
	if err != nil {
		return fmt.Errorf("failed to marshal filters: %w", err)
	}
	rateLimit, err := json.Marshal(webhook.RateLimit)
	if err != nil {
		return fmt.Errorf("failed to marshal rate limit: %w", err)
	}

	query := s.rebind(`
		INSERT INTO webhooks (` + webhookColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err = s.db.Exec(query,
		webhook.ID,
		webhook.AppID,
		webhook.Name,
		webhook.URL,
		webhook.Description,
		events,
		webhook.Secret,
		webhook.Status,
		webhook.Method,
		webhook.ContentType,
		int64(webhook.Timeout),
		headers,
		retryConfig,
		filters,
		rateLimit,
		webhook.Statistics.TotalSent,
		webhook.Statistics.TotalSuccessful,
		webhook.Statistics.TotalFailed,
		webhook.Statistics.TotalResponseTime,
		webhook.Statistics.LastSuccessfulDelivery,
		webhook.Statistics.LastFailedDelivery,
		webhook.Statistics.LastDeliveryAttempt,
		webhook.LastTestedAt,
		nil,
		webhook.CreatedAt,
		webhook.UpdatedAt,
	)
	return err
}

// GetWebhook 根据 ID 获取 Webhook
func (s *Store) GetWebhook(id string) (*domain.Webhook, error) {
	query := s.rebind(`SELECT ` + webhookColumns + ` FROM webhooks WHERE id = ?`)
	return s.scanWebhook(s.db.QueryRow(query, id))
}

// GetWebhookForApp 获取租户范围内的 Webhook
func (s *Store) GetWebhookForApp(appID, id string) (*domain.Webhook, error) {
	query := s.rebind(`SELECT ` + webhookColumns + ` FROM webhooks WHERE id = ? AND app_id = ?`)
	return s.scanWebhook(s.db.QueryRow(query, id, appID))
}

// ListWebhooks 按条件分页列出 Webhook
func (s *Store) ListWebhooks(criteria domain.WebhookListCriteria) (*domain.WebhookListResult, error) {
	page, pageSize := domain.NormalizePagination(criteria.Page, criteria.PageSize)

	where := "WHERE app_id = ?"
	args := []interface{}{criteria.AppID}
	if criteria.Status != "" {
		where += " AND status = ?"
		args = append(args, criteria.Status)
	}

	var total int
	countQuery := s.rebind("SELECT COUNT(*) FROM webhooks " + where)
	if err := s.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, err
	}

	query := s.rebind(`
		SELECT ` + webhookColumns + `
		FROM webhooks ` + where + `
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`)
	args = append(args, pageSize, (page-1)*pageSize)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	webhooks := make([]domain.Webhook, 0, pageSize)
	for rows.Next() {
		webhook, err := s.scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		// 事件订阅过滤在 JSON 列上进行，跨库兼容起见在应用侧判断
		if criteria.Event != "" && !webhook.SubscribesTo(criteria.Event) {
			total--
			continue
		}
		webhooks = append(webhooks, *webhook)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &domain.WebhookListResult{
		Webhooks:   webhooks,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
	}, nil
}

// ListActiveWebhooksForEvent 返回租户内订阅了指定事件的全部 active Webhook
func (s *Store) ListActiveWebhooksForEvent(appID string, eventType domain.EventType) ([]domain.Webhook, error) {
	query := s.rebind(`
		SELECT ` + webhookColumns + `
		FROM webhooks
		WHERE app_id = ? AND status = ?
	`)
	rows, err := s.db.Query(query, appID, domain.WebhookStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Webhook, 0)
	for rows.Next() {
		webhook, err := s.scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		if webhook.SubscribesTo(eventType) {
			result = append(result, *webhook)
		}
	}
	return result, rows.Err()
}

// UpdateWebhook 更新 Webhook（统计字段由 UpdateWebhookStatistics 单独维护）
func (s *Store) UpdateWebhook(webhook *domain.Webhook) error {
	webhook.UpdatedAt = time.Now()

	events, err := json.Marshal(webhook.Events)
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}
	headers, err := marshalNullable(webhook.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}
	retryConfig, err := json.Marshal(webhook.RetryConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal retry config: %w", err)
	}
	filters, err := marshalNullable(webhook.Filters)
	if err != nil {
		return fmt.Errorf("failed to marshal filters: %w", err)
	}
	rateLimit, err := json.Marshal(webhook.RateLimit)
	if err != nil {
		return fmt.Errorf("failed to marshal rate limit: %w", err)
	}

	query := s.rebind(`
		UPDATE webhooks
		SET name = ?, url = ?, description = ?, events = ?, secret = ?, status = ?,
		    method = ?, content_type = ?, timeout = ?, headers = ?, retry_config = ?,
		    filters = ?, rate_limit = ?, updated_at = ?
		WHERE id = ?
	`)
	result, err := s.db.Exec(query,
		webhook.Name,
		webhook.URL,
		webhook.Description,
		events,
		webhook.Secret,
		webhook.Status,
		webhook.Method,
		webhook.ContentType,
		int64(webhook.Timeout),
		headers,
		retryConfig,
		filters,
		rateLimit,
		webhook.UpdatedAt,
		webhook.ID,
	)
	if err != nil {
		return err
	}
	return requireAffected(result, storage.ErrWebhookNotFound)
}

// DeleteWebhook 删除 Webhook
func (s *Store) DeleteWebhook(id string) error {
	result, err := s.db.Exec(s.rebind(`DELETE FROM webhooks WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return requireAffected(result, storage.ErrWebhookNotFound)
}

// UpdateWebhookStatistics 按投递结果原子累加统计计数器
//
// 累加在数据库层完成，并发投递不会丢失计数。
func (s *Store) UpdateWebhookStatistics(webhookID string, outcome domain.DeliveryOutcome) error {
	var query string
	var args []interface{}
	if outcome.Success {
		query = s.rebind(`
			UPDATE webhooks
			SET stat_total_sent = stat_total_sent + 1,
			    stat_total_successful = stat_total_successful + 1,
			    stat_total_response_time = stat_total_response_time + ?,
			    stat_last_successful_delivery = ?,
			    stat_last_delivery_attempt = ?,
			    updated_at = ?
			WHERE id = ?
		`)
		args = []interface{}{outcome.ResponseTime.Milliseconds(), outcome.AttemptedAt, outcome.AttemptedAt, time.Now(), webhookID}
	} else {
		query = s.rebind(`
			UPDATE webhooks
			SET stat_total_sent = stat_total_sent + 1,
			    stat_total_failed = stat_total_failed + 1,
			    stat_last_failed_delivery = ?,
			    stat_last_delivery_attempt = ?,
			    updated_at = ?
			WHERE id = ?
		`)
		args = []interface{}{outcome.AttemptedAt, outcome.AttemptedAt, time.Now(), webhookID}
	}

	result, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	return requireAffected(result, storage.ErrWebhookNotFound)
}

// RecordWebhookTest 记录测试投递结果
func (s *Store) RecordWebhookTest(webhookID string, testResult *domain.WebhookTestResult) error {
	payload, err := json.Marshal(testResult)
	if err != nil {
		return fmt.Errorf("failed to marshal test result: %w", err)
	}

	query := s.rebind(`
		UPDATE webhooks
		SET last_tested_at = ?, last_test_result = ?, updated_at = ?
		WHERE id = ?
	`)
	result, err := s.db.Exec(query, testResult.TestedAt, payload, time.Now(), webhookID)
	if err != nil {
		return err
	}
	return requireAffected(result, storage.ErrWebhookNotFound)
}

// rowScanner 兼容 *sql.Row 与 *sql.Rows 的扫描接口
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanWebhook 从查询结果扫描出完整的 Webhook
func (s *Store) scanWebhook(row rowScanner) (*domain.Webhook, error) {
	var webhook domain.Webhook
	var events, retryConfig, rateLimit []byte
	var headers, filters, lastTestResult []byte
	var timeout int64
	var lastSuccess, lastFailed, lastAttempt, lastTestedAt sql.NullTime

	err := row.Scan(
		&webhook.ID,
		&webhook.AppID,
		&webhook.Name,
		&webhook.URL,
		&webhook.Description,
		&events,
		&webhook.Secret,
		&webhook.Status,
		&webhook.Method,
		&webhook.ContentType,
		&timeout,
		&headers,
		&retryConfig,
		&filters,
		&rateLimit,
		&webhook.Statistics.TotalSent,
		&webhook.Statistics.TotalSuccessful,
		&webhook.Statistics.TotalFailed,
		&webhook.Statistics.TotalResponseTime,
		&lastSuccess,
		&lastFailed,
		&lastAttempt,
		&lastTestedAt,
		&lastTestResult,
		&webhook.CreatedAt,
		&webhook.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrWebhookNotFound
	}
	if err != nil {
		return nil, err
	}

	webhook.Timeout = time.Duration(timeout)
	if err := json.Unmarshal(events, &webhook.Events); err != nil {
		return nil, fmt.Errorf("failed to unmarshal events: %w", err)
	}
	if err := json.Unmarshal(retryConfig, &webhook.RetryConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal retry config: %w", err)
	}
	if err := json.Unmarshal(rateLimit, &webhook.RateLimit); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rate limit: %w", err)
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &webhook.Headers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
		}
	}
	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &webhook.Filters); err != nil {
			return nil, fmt.Errorf("failed to unmarshal filters: %w", err)
		}
	}
	if len(lastTestResult) > 0 {
		if err := json.Unmarshal(lastTestResult, &webhook.LastTestResult); err != nil {
			return nil, fmt.Errorf("failed to unmarshal test result: %w", err)
		}
	}
	if lastSuccess.Valid {
		webhook.Statistics.LastSuccessfulDelivery = &lastSuccess.Time
	}
	if lastFailed.Valid {
		webhook.Statistics.LastFailedDelivery = &lastFailed.Time
	}
	if lastAttempt.Valid {
		webhook.Statistics.LastDeliveryAttempt = &lastAttempt.Time
	}
	if lastTestedAt.Valid {
		webhook.LastTestedAt = &lastTestedAt.Time
	}
	return &webhook, nil
}

// marshalNullable 为空的可选结构写入 NULL 而非 JSON null
func marshalNullable(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case map[string]string:
		if len(val) == 0 {
			return nil, nil
		}
	case *domain.WebhookFilters:
		if val == nil {
			return nil, nil
		}
	case nil:
		return nil, nil
	}
	return json.Marshal(v)
}

// requireAffected 将零行更新映射为目标错误
func requireAffected(result sql.Result, notFound error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound
	}
	return nil
}
