package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/plugin/dbresolver"

	"verifyflow/internal/model"
	"verifyflow/internal/verification"
)

func (s *GormStore) ReadStepData(ctx context.Context, providerID string, step int) (model.StepData, error) {
	st, err := s.registry.Step(step)
	if err != nil {
		return model.StepData{}, err
	}
	data, err := s.readSections(ctx, providerID, st.Key)
	if err != nil {
		return model.StepData{}, classify("read step data", err)
	}
	return ProjectStep(data, st.Key), nil
}

func (s *GormStore) ReadAllStepData(ctx context.Context, providerID string) (model.StepData, error) {
	data, err := s.readSections(ctx, providerID, "")
	if err != nil {
		return model.StepData{}, classify("read step data", err)
	}
	return data, nil
}

// readSections key 为空时读取全部表
func (s *GormStore) readSections(ctx context.Context, providerID, key string) (model.StepData, error) {
	var data model.StepData
	db := s.db.WithContext(ctx).Clauses(dbresolver.Write)
	want := func(keys ...string) bool {
		if key == "" {
			return true
		}
		for _, k := range keys {
			if k == key {
				return true
			}
		}
		return false
	}

	if want(verification.StepKeyDocuments) {
		var docs []model.ProviderDocument
		if err := db.Where("provider_id = ?", providerID).Order("id ASC").Find(&docs).Error; err != nil {
			return data, err
		}
		for _, d := range docs {
			data.Documents = append(data.Documents, model.DocumentRef{Type: d.DocumentType, URL: d.URL})
		}
	}

	if want(verification.StepKeySelfie, verification.StepKeyBusinessInfo, verification.StepKeyCategory, verification.StepKeyBio) {
		var profile model.Profile
		err := db.Where("provider_id = ?", providerID).Take(&profile).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return data, err
		default:
			data.SelfieURL = profile.SelfieURL
			data.BusinessInfo = model.BusinessInfo{
				BusinessName: profile.BusinessName,
				PhoneNumber:  profile.PhoneNumber,
				Address:      profile.Address,
				City:         profile.City,
				PostalCode:   profile.PostalCode,
			}
			data.Category = model.CategorySelection{
				CategoryID:     profile.CategoryID,
				SubcategoryIDs: []string(profile.SubcategoryIDs),
			}
			data.Bio = model.BioInfo{
				Description:     profile.BusinessDescription,
				YearsExperience: profile.YearsExperience,
			}
		}
	}

	if want(verification.StepKeyServices) {
		var services []model.ProviderService
		if err := db.Where("provider_id = ? AND active = ?", providerID, true).Order("id ASC").Find(&services).Error; err != nil {
			return data, err
		}
		for _, svc := range services {
			data.Services = append(data.Services, model.ServiceItem{
				Name:            svc.Name,
				PriceCents:      svc.PriceCents,
				DurationMinutes: svc.DurationMinutes,
			})
		}
	}

	if want(verification.StepKeyPortfolio) {
		var images []model.PortfolioImage
		if err := db.Where("provider_id = ?", providerID).Order("sort_order ASC, id ASC").Find(&images).Error; err != nil {
			return data, err
		}
		for _, img := range images {
			data.Portfolio = append(data.Portfolio, model.PortfolioImageRef{URL: img.ImageURL, Caption: img.Caption})
		}
	}

	if want(verification.StepKeyTerms) {
		var terms model.BusinessTerms
		err := db.Where("provider_id = ?", providerID).Take(&terms).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return data, err
		default:
			data.Terms = model.TermsAcceptance{
				TermsAccepted:      terms.TermsAccepted,
				PrivacyAccepted:    terms.PrivacyAccepted,
				CancellationPolicy: terms.CancellationPolicy,
				AcceptedAt:         terms.AcceptedAt,
			}
		}
	}

	return data, nil
}

// WriteStepData 同一事务内写入步骤相关的表；列表类数据整体替换
func (s *GormStore) WriteStepData(ctx context.Context, providerID string, step int, payload *model.StepPayload) ([]string, error) {
	if _, err := s.registry.Step(step); err != nil {
		return nil, err
	}
	tables := TablesForPayload(payload)
	if len(tables) == 0 {
		return nil, nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return writeStepDataTx(tx, providerID, payload, s.now())
	})
	if err != nil {
		return nil, classify("write step data", err)
	}
	return tables, nil
}

// writeStepDataTx 在调用方的事务里写入步骤相关的表
func writeStepDataTx(tx *gorm.DB, providerID string, payload *model.StepPayload, now time.Time) error {
	if payload.Documents != nil {
		if err := tx.Unscoped().Where("provider_id = ?", providerID).Delete(&model.ProviderDocument{}).Error; err != nil {
			return err
		}
		rows := make([]model.ProviderDocument, 0, len(payload.Documents))
		for _, d := range payload.Documents {
			rows = append(rows, model.ProviderDocument{ProviderID: providerID, DocumentType: d.Type, URL: d.URL})
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
	}

	if cols, profile := profileUpdate(providerID, payload); len(cols) > 0 {
		profile.UpdatedAt = now
		cols = append(cols, "updated_at")
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider_id"}},
			DoUpdates: clause.AssignmentColumns(cols),
		}).Create(&profile).Error; err != nil {
			return err
		}
	}

	if payload.Services != nil {
		if err := tx.Unscoped().Where("provider_id = ?", providerID).Delete(&model.ProviderService{}).Error; err != nil {
			return err
		}
		rows := make([]model.ProviderService, 0, len(payload.Services))
		for _, svc := range payload.Services {
			rows = append(rows, model.ProviderService{
				ProviderID:      providerID,
				Name:            svc.Name,
				PriceCents:      svc.PriceCents,
				DurationMinutes: svc.DurationMinutes,
				Active:          true,
			})
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
	}

	if payload.Portfolio != nil {
		if err := tx.Unscoped().Where("provider_id = ?", providerID).Delete(&model.PortfolioImage{}).Error; err != nil {
			return err
		}
		rows := make([]model.PortfolioImage, 0, len(payload.Portfolio))
		for i, img := range payload.Portfolio {
			rows = append(rows, model.PortfolioImage{ProviderID: providerID, ImageURL: img.URL, Caption: img.Caption, SortOrder: i})
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
	}

	if payload.Terms != nil {
		terms := model.BusinessTerms{
			ProviderID:         providerID,
			TermsAccepted:      payload.Terms.TermsAccepted,
			PrivacyAccepted:    payload.Terms.PrivacyAccepted,
			CancellationPolicy: payload.Terms.CancellationPolicy,
			AcceptedAt:         payload.Terms.AcceptedAt,
			UpdatedAt:          now,
		}
		if terms.TermsAccepted && terms.AcceptedAt == nil {
			at := now
			terms.AcceptedAt = &at
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"terms_accepted", "privacy_accepted", "cancellation_policy", "accepted_at", "updated_at"}),
		}).Create(&terms).Error; err != nil {
			return err
		}
	}
	return nil
}

// profileUpdate profiles 表按步骤只更新自己的列
func profileUpdate(providerID string, p *model.StepPayload) ([]string, model.Profile) {
	profile := model.Profile{ProviderID: providerID}
	var cols []string

	if p.SelfieURL != nil {
		profile.SelfieURL = *p.SelfieURL
		cols = append(cols, "selfie_url")
	}
	if p.BusinessInfo != nil {
		profile.BusinessName = p.BusinessInfo.BusinessName
		profile.PhoneNumber = p.BusinessInfo.PhoneNumber
		profile.Address = p.BusinessInfo.Address
		profile.City = p.BusinessInfo.City
		profile.PostalCode = p.BusinessInfo.PostalCode
		cols = append(cols, "business_name", "phone_number", "address", "city", "postal_code")
	}
	if p.Category != nil {
		profile.CategoryID = p.Category.CategoryID
		profile.SubcategoryIDs = datatypes.NewJSONSlice(p.Category.SubcategoryIDs)
		cols = append(cols, "category_id", "subcategory_ids")
	}
	if p.Bio != nil {
		profile.BusinessDescription = p.Bio.Description
		profile.YearsExperience = p.Bio.YearsExperience
		cols = append(cols, "business_description", "years_experience")
	}
	return cols, profile
}
