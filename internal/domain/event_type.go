package domain

// EventType Webhook 事件类型
//
// 服务端使用封闭的事件目录，Webhook 创建时校验订阅的事件类型，
// 避免自由字符串导致永远不会触发的订阅。
type EventType string

const (
	EventFileUploaded   EventType = "file.uploaded"   // 文件上传完成
	EventFileDeleted    EventType = "file.deleted"    // 文件删除
	EventFileUpdated    EventType = "file.updated"    // 文件元数据更新
	EventFileDownloaded EventType = "file.downloaded" // 文件下载
	EventFolderCreated  EventType = "folder.created"  // 文件夹创建
	EventFolderDeleted  EventType = "folder.deleted"  // 文件夹删除
	EventFolderUpdated  EventType = "folder.updated"  // 文件夹更新
	EventQuotaExceeded  EventType = "quota.exceeded"  // 配额超限
	EventQuotaWarning   EventType = "quota.warning"   // 配额告警
	EventUserRegistered EventType = "user.registered" // 用户注册
	EventUserLogin      EventType = "user.login"      // 用户登录
	EventAppCreated     EventType = "app.created"     // 应用创建
	EventAppUpdated     EventType = "app.updated"     // 应用更新
	EventWebhookTest    EventType = "webhook.test"    // Webhook 测试事件

	// EventWildcard 通配符，订阅全部事件
	EventWildcard EventType = "*"
)

// eventCatalog 全部已知事件类型（含通配符）
var eventCatalog = map[EventType]bool{
	EventFileUploaded:   true,
	EventFileDeleted:    true,
	EventFileUpdated:    true,
	EventFileDownloaded: true,
	EventFolderCreated:  true,
	EventFolderDeleted:  true,
	EventFolderUpdated:  true,
	EventQuotaExceeded:  true,
	EventQuotaWarning:   true,
	EventUserRegistered: true,
	EventUserLogin:      true,
	EventAppCreated:     true,
	EventAppUpdated:     true,
	EventWebhookTest:    true,
	EventWildcard:       true,
}

// IsValid 判断事件类型是否在目录中
func (t EventType) IsValid() bool {
	return eventCatalog[t]
}

// IsWildcard 判断是否为通配符订阅
func (t EventType) IsWildcard() bool {
	return t == EventWildcard
}

// KnownEventTypes 返回事件目录的快照（不含通配符，用于 API 展示）
func KnownEventTypes() []EventType {
	types := make([]EventType, 0, len(eventCatalog)-1)
	for t := range eventCatalog {
		if t == EventWildcard {
			continue
		}
		types = append(types, t)
	}
	return types
}

// ValidateEventTypes 校验订阅的事件类型列表
//
// 返回第一个不在目录中的事件类型；全部合法时返回空字符串和 true。
func ValidateEventTypes(events []EventType) (EventType, bool) {
	for _, e := range events {
		if !e.IsValid() {
			return e, false
		}
	}
	return "", true
}
