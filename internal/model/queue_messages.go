package model

// 变更来源表，仅用于日志和指标，不影响失效逻辑
const (
	TableProgress  = "provider_onboarding_progress"
	TableProfiles  = "profiles"
	TableDocuments = "provider_documents"
	TablePortfolio = "portfolio_images"
	TableServices  = "provider_services"
	TableTerms     = "business_terms"
)

// InvalidationMessage 进度变更通知，只是一个“该刷新了”的提示，不携带任何状态
type InvalidationMessage struct {
	MessageID  string `json:"message_id"` // 消息唯一ID，用于日志追踪
	ProviderID string `json:"provider_id"`
	Table      string `json:"table"`
	OccurredAt string `json:"occurred_at"`
}
