package domain

import "time"

// exponentialSchedule 指数策略的固定延迟表，下标为已失败次数-1
var exponentialSchedule = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	15 * time.Second,
	60 * time.Second,
	300 * time.Second,
}

// NextRetryDelay 计算第 attemptsSoFar 次失败后的重试延迟
//
// attemptsSoFar 为已完成（已失败）的尝试次数，至少为 1。
// 结果统一按 MaxDelay 封顶；配置缺省时退化为默认策略。
func NextRetryDelay(cfg RetryConfig, attemptsSoFar int) time.Duration {
	if attemptsSoFar < 1 {
		attemptsSoFar = 1
	}
	var delay time.Duration
	switch cfg.BackoffStrategy {
	case BackoffLinear:
		delay = time.Duration(attemptsSoFar) * cfg.InitialDelay
	case BackoffFixed:
		delay = cfg.InitialDelay
	default: // exponential
		idx := attemptsSoFar - 1
		if idx >= len(exponentialSchedule) {
			idx = len(exponentialSchedule) - 1
		}
		delay = exponentialSchedule[idx]
	}
	if delay <= 0 {
		delay = exponentialSchedule[0]
	}
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}
