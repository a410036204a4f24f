package domain

import (
	"path"
	"strings"
)

// FilterOperator 条件过滤支持的比较运算符
type FilterOperator string

const (
	OpEq       FilterOperator = "eq"
	OpNe       FilterOperator = "ne"
	OpGt       FilterOperator = "gt"
	OpGte      FilterOperator = "gte"
	OpLt       FilterOperator = "lt"
	OpLte      FilterOperator = "lte"
	OpIn       FilterOperator = "in"
	OpNin      FilterOperator = "nin"
	OpContains FilterOperator = "contains"
)

// IsValid 判断运算符是否受支持
func (op FilterOperator) IsValid() bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpNin, OpContains:
		return true
	}
	return false
}

// FilterCondition 针对负载数据单个字段的比较条件
type FilterCondition struct {
	Field    string         `json:"field"`
	Operator FilterOperator `json:"operator"`
	Value    interface{}    `json:"value"`
}

// WebhookFilters 投递前的负载过滤规则
//
// 全部子规则按与(AND)组合；任意子规则不满足则跳过投递，
// 跳过不产生事件记录，也不计入统计。
type WebhookFilters struct {
	FileTypes   []string          `json:"fileTypes,omitempty"`   // 扩展名白名单，不含点，大小写不敏感
	FolderPaths []string          `json:"folderPaths,omitempty"` // 路径前缀白名单
	MinFileSize *int64            `json:"minFileSize,omitempty"` // 字节
	MaxFileSize *int64            `json:"maxFileSize,omitempty"`
	Conditions  []FilterCondition `json:"conditions,omitempty"`
}

// Matches 判断事件数据是否通过全部过滤规则
//
// data 为负载的 data 字段。约定键：fileName / folderPath / fileSize。
// 规则引用的键在数据中缺失时视为不匹配。
func (f *WebhookFilters) Matches(data map[string]interface{}) bool {
	if f == nil {
		return true
	}
	if len(f.FileTypes) > 0 {
		name, ok := stringValue(data["fileName"])
		if !ok || !f.matchFileType(name) {
			return false
		}
	}
	if len(f.FolderPaths) > 0 {
		folder, ok := stringValue(data["folderPath"])
		if !ok || !f.matchFolderPath(folder) {
			return false
		}
	}
	if f.MinFileSize != nil || f.MaxFileSize != nil {
		size, ok := numericValue(data["fileSize"])
		if !ok {
			return false
		}
		if f.MinFileSize != nil && size < float64(*f.MinFileSize) {
			return false
		}
		if f.MaxFileSize != nil && size > float64(*f.MaxFileSize) {
			return false
		}
	}
	for _, cond := range f.Conditions {
		if !evalCondition(cond, data) {
			return false
		}
	}
	return true
}

func (f *WebhookFilters) matchFileType(fileName string) bool {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(fileName)), ".")
	for _, ft := range f.FileTypes {
		if strings.ToLower(strings.TrimPrefix(ft, ".")) == ext {
			return true
		}
	}
	return false
}

func (f *WebhookFilters) matchFolderPath(folder string) bool {
	folder = normalizeFolder(folder)
	for _, p := range f.FolderPaths {
		if strings.HasPrefix(folder, normalizeFolder(p)) {
			return true
		}
	}
	return false
}

func normalizeFolder(p string) string {
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p = p + "/"
	}
	return p
}

func evalCondition(cond FilterCondition, data map[string]interface{}) bool {
	val, ok := lookupField(data, cond.Field)
	if !ok {
		return false
	}
	switch cond.Operator {
	case OpEq:
		return looseEqual(val, cond.Value)
	case OpNe:
		return !looseEqual(val, cond.Value)
	case OpGt, OpGte, OpLt, OpLte:
		a, okA := numericValue(val)
		b, okB := numericValue(cond.Value)
		if !okA || !okB {
			return false
		}
		switch cond.Operator {
		case OpGt:
			return a > b
		case OpGte:
			return a >= b
		case OpLt:
			return a < b
		default:
			return a <= b
		}
	case OpIn:
		return containsValue(cond.Value, val)
	case OpNin:
		return !containsValue(cond.Value, val)
	case OpContains:
		s, okS := stringValue(val)
		sub, okSub := stringValue(cond.Value)
		if !okS || !okSub {
			return false
		}
		return strings.Contains(s, sub)
	}
	return false
}

// lookupField 支持点号路径访问嵌套字段，例如 metadata.contentType
func lookupField(data map[string]interface{}, field string) (interface{}, bool) {
	parts := strings.Split(field, ".")
	var cur interface{} = data
	for _, part := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// looseEqual 数值按数值比较，其余按字符串化比较，兼容 JSON 解码后的类型差异
func looseEqual(a, b interface{}) bool {
	na, okA := numericValue(a)
	nb, okB := numericValue(b)
	if okA && okB {
		return na == nb
	}
	sa, okA := stringValue(a)
	sb, okB := stringValue(b)
	if okA && okB {
		return sa == sb
	}
	return a == b
}

func containsValue(list interface{}, target interface{}) bool {
	items, ok := list.([]interface{})
	if !ok {
		if strs, okS := list.([]string); okS {
			for _, s := range strs {
				if looseEqual(s, target) {
					return true
				}
			}
		}
		return false
	}
	for _, item := range items {
		if looseEqual(item, target) {
			return true
		}
	}
	return false
}

func stringValue(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func numericValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
