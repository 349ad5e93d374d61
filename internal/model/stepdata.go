package model

import (
	"time"

	"gorm.io/datatypes"
)

// DocumentType 证件类型
type DocumentType string

const (
	DocumentIDFront         DocumentType = "id_front"
	DocumentIDBack          DocumentType = "id_back"
	DocumentPassport        DocumentType = "passport"
	DocumentBusinessLicense DocumentType = "business_license"
)

// DocumentRef 已上传证件
type DocumentRef struct {
	Type DocumentType `json:"type"`
	URL  string       `json:"url"`
}

// BusinessInfo 商户基本信息
type BusinessInfo struct {
	BusinessName string `json:"business_name"`
	PhoneNumber  string `json:"phone_number"`
	Address      string `json:"address"`
	City         string `json:"city,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
}

// CategorySelection 服务类目
type CategorySelection struct {
	CategoryID     string   `json:"category_id"`
	SubcategoryIDs []string `json:"subcategory_ids,omitempty"`
}

// ServiceItem 服务项目，价格以分为单位
type ServiceItem struct {
	Name            string `json:"name"`
	PriceCents      int64  `json:"price_cents"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
}

// PortfolioImageRef 作品图片
type PortfolioImageRef struct {
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
}

// BioInfo 个人简介
type BioInfo struct {
	Description     string `json:"description"`
	YearsExperience *int   `json:"years_experience,omitempty"`
}

// TermsAcceptance 条款确认
type TermsAcceptance struct {
	TermsAccepted      bool       `json:"terms_accepted"`
	PrivacyAccepted    bool       `json:"privacy_accepted"`
	CancellationPolicy string     `json:"cancellation_policy,omitempty"`
	AcceptedAt         *time.Time `json:"accepted_at,omitempty"`
}

// StepData 某服务商全部步骤的原始数据，完成度判定以此为准
type StepData struct {
	Documents    []DocumentRef       `json:"documents"`
	SelfieURL    string              `json:"selfie_url"`
	BusinessInfo BusinessInfo        `json:"business_info"`
	Category     CategorySelection   `json:"category"`
	Services     []ServiceItem       `json:"services"`
	Portfolio    []PortfolioImageRef `json:"portfolio"`
	Bio          BioInfo             `json:"bio"`
	Terms        TermsAcceptance     `json:"terms"`
}

// StepPayload 单个步骤的写入内容，只会设置与该步骤对应的字段
type StepPayload struct {
	Documents    []DocumentRef       `json:"documents,omitempty"`
	SelfieURL    *string             `json:"selfie_url,omitempty"`
	BusinessInfo *BusinessInfo       `json:"business_info,omitempty"`
	Category     *CategorySelection  `json:"category,omitempty"`
	Services     []ServiceItem       `json:"services,omitempty"`
	Portfolio    []PortfolioImageRef `json:"portfolio,omitempty"`
	Bio          *BioInfo            `json:"bio,omitempty"`
	Terms        *TermsAcceptance    `json:"terms,omitempty"`
}

// Apply 把写入内容合并到步骤数据上，返回新值，不修改原值
func (d StepData) Apply(p *StepPayload) StepData {
	out := d.Clone()
	if p == nil {
		return out
	}
	if p.Documents != nil {
		out.Documents = append([]DocumentRef(nil), p.Documents...)
	}
	if p.SelfieURL != nil {
		out.SelfieURL = *p.SelfieURL
	}
	if p.BusinessInfo != nil {
		out.BusinessInfo = *p.BusinessInfo
	}
	if p.Category != nil {
		out.Category = CategorySelection{
			CategoryID:     p.Category.CategoryID,
			SubcategoryIDs: append([]string(nil), p.Category.SubcategoryIDs...),
		}
	}
	if p.Services != nil {
		out.Services = append([]ServiceItem(nil), p.Services...)
	}
	if p.Portfolio != nil {
		out.Portfolio = append([]PortfolioImageRef(nil), p.Portfolio...)
	}
	if p.Bio != nil {
		bio := *p.Bio
		if p.Bio.YearsExperience != nil {
			years := *p.Bio.YearsExperience
			bio.YearsExperience = &years
		}
		out.Bio = bio
	}
	if p.Terms != nil {
		out.Terms = *p.Terms
	}
	return out
}

// Clone 深拷贝
func (d StepData) Clone() StepData {
	out := d
	out.Documents = append([]DocumentRef(nil), d.Documents...)
	out.Category.SubcategoryIDs = append([]string(nil), d.Category.SubcategoryIDs...)
	out.Services = append([]ServiceItem(nil), d.Services...)
	out.Portfolio = append([]PortfolioImageRef(nil), d.Portfolio...)
	if d.Bio.YearsExperience != nil {
		years := *d.Bio.YearsExperience
		out.Bio.YearsExperience = &years
	}
	if d.Terms.AcceptedAt != nil {
		at := *d.Terms.AcceptedAt
		out.Terms.AcceptedAt = &at
	}
	return out
}

// ========== 步骤数据表 ==========

// Profile 服务商资料，承载商户信息、自拍、类目与简介
type Profile struct {
	ProviderID          string                      `gorm:"primaryKey;type:varchar(64)" json:"provider_id"`
	BusinessName        string                      `gorm:"type:varchar(128);not null;default:''" json:"business_name"`
	PhoneNumber         string                      `gorm:"type:varchar(32);not null;default:''" json:"phone_number"`
	Address             string                      `gorm:"type:varchar(256);not null;default:''" json:"address"`
	City                string                      `gorm:"type:varchar(64);not null;default:''" json:"city"`
	PostalCode          string                      `gorm:"type:varchar(16);not null;default:''" json:"postal_code"`
	SelfieURL           string                      `gorm:"type:text;not null;default:''" json:"selfie_url"`
	CategoryID          string                      `gorm:"type:varchar(64);not null;default:''" json:"category_id"`
	SubcategoryIDs      datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"subcategory_ids"`
	BusinessDescription string                      `gorm:"type:text;not null;default:''" json:"business_description"`
	YearsExperience     *int                        `json:"years_experience"`
	CreatedAt           time.Time                   `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt           time.Time                   `gorm:"not null;default:now()" json:"updated_at"`
}

func (Profile) TableName() string {
	return "profiles"
}

// ProviderDocument 证件照片
type ProviderDocument struct {
	BaseModel
	ProviderID   string       `gorm:"type:varchar(64);not null;index:idx_documents_provider" json:"provider_id"`
	DocumentType DocumentType `gorm:"type:varchar(32);not null" json:"document_type"`
	URL          string       `gorm:"type:text;not null" json:"url"`
}

func (ProviderDocument) TableName() string {
	return "provider_documents"
}

// PortfolioImage 作品集图片
type PortfolioImage struct {
	BaseModel
	ProviderID string `gorm:"type:varchar(64);not null;index:idx_portfolio_provider" json:"provider_id"`
	ImageURL   string `gorm:"type:text;not null" json:"image_url"`
	Caption    string `gorm:"type:varchar(256);not null;default:''" json:"caption"`
	SortOrder  int    `gorm:"not null;default:0" json:"sort_order"`
}

func (PortfolioImage) TableName() string {
	return "portfolio_images"
}

// ProviderService 服务商提供的服务
type ProviderService struct {
	BaseModel
	ProviderID      string `gorm:"type:varchar(64);not null;index:idx_services_provider" json:"provider_id"`
	Name            string `gorm:"type:varchar(128);not null" json:"name"`
	PriceCents      int64  `gorm:"not null;default:0" json:"price_cents"`
	DurationMinutes int    `gorm:"not null;default:0" json:"duration_minutes"`
	Active          bool   `gorm:"not null;default:true" json:"active"`
}

func (ProviderService) TableName() string {
	return "provider_services"
}

// BusinessTerms 条款确认记录
type BusinessTerms struct {
	ProviderID         string     `gorm:"primaryKey;type:varchar(64)" json:"provider_id"`
	TermsAccepted      bool       `gorm:"not null;default:false" json:"terms_accepted"`
	PrivacyAccepted    bool       `gorm:"not null;default:false" json:"privacy_accepted"`
	CancellationPolicy string     `gorm:"type:varchar(32);not null;default:''" json:"cancellation_policy"`
	AcceptedAt         *time.Time `gorm:"type:timestamptz" json:"accepted_at"`
	UpdatedAt          time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (BusinessTerms) TableName() string {
	return "business_terms"
}
