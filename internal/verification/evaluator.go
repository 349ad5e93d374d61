package verification

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"verifyflow/internal/model"
	pkgerrors "verifyflow/pkg/errors"
	"verifyflow/utils"
)

const (
	// MinBioLength 简介最少字符数（按 rune 计）
	MinBioLength = 50
	// MaxYearsExperience 从业年限上限
	MaxYearsExperience = 50
)

// Check 返回某一步缺失的字段，空表示该步已满足
type Check func(data model.StepData) map[string]string

// Evaluator 根据原始步骤数据判定完成度，不读存储里的布尔标记，无 I/O
type Evaluator struct {
	registry *Registry
	checks   map[string]Check
}

// NewEvaluator 按步骤键绑定默认规则；没有规则的步骤永远视为未完成
func NewEvaluator(reg *Registry) *Evaluator {
	checks := make(map[string]Check, len(defaultChecks))
	for k, c := range defaultChecks {
		checks[k] = c
	}
	return &Evaluator{registry: reg, checks: checks}
}

// WithCheck 返回替换了某一步规则的副本
func (e *Evaluator) WithCheck(key string, check Check) *Evaluator {
	checks := make(map[string]Check, len(e.checks)+1)
	for k, c := range e.checks {
		checks[k] = c
	}
	checks[key] = check
	return &Evaluator{registry: e.registry, checks: checks}
}

// Registry 返回所使用的注册表
func (e *Evaluator) Registry() *Registry {
	return e.registry
}

// Missing 返回某一步缺失的字段
func (e *Evaluator) Missing(n int, data model.StepData) (map[string]string, error) {
	s, err := e.registry.Step(n)
	if err != nil {
		return nil, err
	}
	check, ok := e.checks[s.Key]
	if !ok {
		return map[string]string{s.Key: "no completion rule"}, nil
	}
	return check(data), nil
}

// IsStepComplete 某一步是否满足
func (e *Evaluator) IsStepComplete(n int, data model.StepData) (bool, error) {
	missing, err := e.Missing(n, data)
	if err != nil {
		return false, err
	}
	return len(missing) == 0, nil
}

// Evaluate 计算完整的完成表
func (e *Evaluator) Evaluate(data model.StepData) model.StepsCompleted {
	out := model.NewStepsCompleted(e.registry.Count())
	for n := 1; n <= e.registry.Count(); n++ {
		done, _ := e.IsStepComplete(n, data)
		out[n] = done
	}
	return out
}

// FirstIncompleteStep 第一个不满足的步骤，全部满足时返回 Count()+1
func (e *Evaluator) FirstIncompleteStep(data model.StepData) int {
	return FirstIncomplete(e.registry, e.Evaluate(data))
}

// FirstIncomplete 在完成表上找第一个为 false 或缺失的步骤
func FirstIncomplete(reg *Registry, m model.StepsCompleted) int {
	for n := 1; n <= reg.Count(); n++ {
		if !m[n] {
			return n
		}
	}
	return reg.CompleteMarker()
}

// ValidatePayload 提交前的本地校验：内容必须属于该步骤，合并后满足该步规则并通过格式检查
func (e *Evaluator) ValidatePayload(n int, current model.StepData, payload *model.StepPayload, completing bool) error {
	s, err := e.registry.Step(n)
	if err != nil {
		return err
	}

	issues := map[string]string{}
	if payload != nil {
		for _, section := range payloadSections(payload) {
			if section != s.Key {
				issues[section] = fmt.Sprintf("not part of step %q", s.Key)
			}
		}
		for field, reason := range formatIssues(payload) {
			issues[field] = reason
		}
	}

	if completing {
		missing, err := e.Missing(n, current.Apply(payload))
		if err != nil {
			return err
		}
		for field, reason := range missing {
			if _, seen := issues[field]; !seen {
				issues[field] = reason
			}
		}
	}

	if len(issues) > 0 {
		return &pkgerrors.ValidationError{Step: n, Fields: issues}
	}
	return nil
}

// payloadSections 写入内容涉及的步骤键
func payloadSections(p *model.StepPayload) []string {
	var out []string
	if p.Documents != nil {
		out = append(out, StepKeyDocuments)
	}
	if p.SelfieURL != nil {
		out = append(out, StepKeySelfie)
	}
	if p.BusinessInfo != nil {
		out = append(out, StepKeyBusinessInfo)
	}
	if p.Category != nil {
		out = append(out, StepKeyCategory)
	}
	if p.Services != nil {
		out = append(out, StepKeyServices)
	}
	if p.Portfolio != nil {
		out = append(out, StepKeyPortfolio)
	}
	if p.Bio != nil {
		out = append(out, StepKeyBio)
	}
	if p.Terms != nil {
		out = append(out, StepKeyTerms)
	}
	return out
}

func formatIssues(p *model.StepPayload) map[string]string {
	issues := map[string]string{}
	for i, d := range p.Documents {
		if !utils.ValidateMediaURL(d.URL) {
			issues[fmt.Sprintf("documents[%d].url", i)] = "must be an http(s) url"
		}
	}
	if p.SelfieURL != nil && !utils.IsBlank(*p.SelfieURL) && !utils.ValidateMediaURL(*p.SelfieURL) {
		issues["selfie_url"] = "must be an http(s) url"
	}
	if p.BusinessInfo != nil && !utils.IsBlank(p.BusinessInfo.PhoneNumber) && !utils.ValidatePhone(p.BusinessInfo.PhoneNumber) {
		issues["phone_number"] = "invalid phone number"
	}
	for i, img := range p.Portfolio {
		if !utils.ValidateMediaURL(img.URL) {
			issues[fmt.Sprintf("portfolio[%d].url", i)] = "must be an http(s) url"
		}
	}
	for i, svc := range p.Services {
		if svc.PriceCents < 0 {
			issues[fmt.Sprintf("services[%d].price_cents", i)] = "must not be negative"
		}
	}
	return issues
}

// ========== 默认规则 ==========

var defaultChecks = map[string]Check{
	StepKeyDocuments:    checkDocuments,
	StepKeySelfie:       checkSelfie,
	StepKeyBusinessInfo: checkBusinessInfo,
	StepKeyCategory:     checkCategory,
	StepKeyServices:     checkServices,
	StepKeyPortfolio:    checkPortfolio,
	StepKeyBio:          checkBio,
	StepKeyTerms:        checkTerms,
}

// 护照可以代替身份证正反面
func checkDocuments(d model.StepData) map[string]string {
	have := map[model.DocumentType]bool{}
	for _, doc := range d.Documents {
		if !utils.IsBlank(doc.URL) {
			have[doc.Type] = true
		}
	}
	if have[model.DocumentPassport] {
		return nil
	}

	issues := map[string]string{}
	if !have[model.DocumentIDFront] {
		issues["documents.id_front"] = "required"
	}
	if !have[model.DocumentIDBack] {
		issues["documents.id_back"] = "required"
	}
	return issues
}

func checkSelfie(d model.StepData) map[string]string {
	if utils.IsBlank(d.SelfieURL) {
		return map[string]string{"selfie_url": "required"}
	}
	return nil
}

func checkBusinessInfo(d model.StepData) map[string]string {
	issues := map[string]string{}
	if utils.IsBlank(d.BusinessInfo.BusinessName) {
		issues["business_name"] = "required"
	}
	if utils.IsBlank(d.BusinessInfo.PhoneNumber) {
		issues["phone_number"] = "required"
	}
	if utils.IsBlank(d.BusinessInfo.Address) {
		issues["address"] = "required"
	}
	return issues
}

func checkCategory(d model.StepData) map[string]string {
	if utils.IsBlank(d.Category.CategoryID) {
		return map[string]string{"category_id": "required"}
	}
	return nil
}

func checkServices(d model.StepData) map[string]string {
	for _, svc := range d.Services {
		if !utils.IsBlank(svc.Name) && svc.PriceCents > 0 {
			return nil
		}
	}
	return map[string]string{"services": "at least one priced service required"}
}

func checkPortfolio(d model.StepData) map[string]string {
	for _, img := range d.Portfolio {
		if !utils.IsBlank(img.URL) {
			return nil
		}
	}
	return map[string]string{"portfolio": "at least one image required"}
}

func checkBio(d model.StepData) map[string]string {
	issues := map[string]string{}
	if utf8.RuneCountInString(strings.TrimSpace(d.Bio.Description)) < MinBioLength {
		issues["description"] = fmt.Sprintf("must be at least %d characters", MinBioLength)
	}
	switch {
	case d.Bio.YearsExperience == nil:
		issues["years_experience"] = "required"
	case *d.Bio.YearsExperience < 0 || *d.Bio.YearsExperience > MaxYearsExperience:
		issues["years_experience"] = fmt.Sprintf("must be between 0 and %d", MaxYearsExperience)
	}
	return issues
}

func checkTerms(d model.StepData) map[string]string {
	if !d.Terms.TermsAccepted {
		return map[string]string{"terms_accepted": "must be accepted"}
	}
	return nil
}
