package verification

import (
	"fmt"
	"strings"

	pkgerrors "verifyflow/pkg/errors"
)

// Route 前端页面路由标识
type Route string

// 流程外的终点路由
const (
	RouteFlowComplete   Route = "/verification/complete"
	RouteAwaitingReview Route = "/verification/pending-review"
	RouteRejected       Route = "/verification/rejected"
	RouteMainApp        Route = "/(tabs)/dashboard"
	RouteLogin          Route = "/auth/login"
)

// 默认注册表中的步骤键
const (
	StepKeyDocuments    = "documents"
	StepKeySelfie       = "selfie"
	StepKeyBusinessInfo = "business-info"
	StepKeyCategory     = "category"
	StepKeyServices     = "services"
	StepKeyPortfolio    = "portfolio"
	StepKeyBio          = "bio"
	StepKeyTerms        = "terms"
)

// Step 认证流程中的一步
type Step struct {
	Number int    `json:"number"`
	Key    string `json:"key"`
	Route  Route  `json:"route"`
	Title  string `json:"title"`
}

// InvalidStepError 步骤号越界，不做截断
type InvalidStepError struct {
	Step  int
	Count int
}

func (e *InvalidStepError) Error() string {
	return fmt.Sprintf("invalid verification step %d (valid range 1..%d)", e.Step, e.Count)
}

func (e *InvalidStepError) Unwrap() error {
	return pkgerrors.InvalidStep
}

// Registry 步骤号与路由的双向映射，线性、无分支
type Registry struct {
	steps   []Step
	byRoute map[Route]int
	byKey   map[string]int
}

// NewRegistry 按顺序构建注册表，步骤号必须从 1 开始连续
func NewRegistry(steps ...Step) (*Registry, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("registry requires at least one step")
	}

	r := &Registry{
		steps:   make([]Step, len(steps)),
		byRoute: make(map[Route]int, len(steps)),
		byKey:   make(map[string]int, len(steps)),
	}

	for i, s := range steps {
		if s.Number != i+1 {
			return nil, fmt.Errorf("step %q has number %d, want %d", s.Key, s.Number, i+1)
		}
		if strings.TrimSpace(string(s.Route)) == "" || strings.TrimSpace(s.Key) == "" {
			return nil, fmt.Errorf("step %d requires a key and a route", s.Number)
		}
		if _, dup := r.byRoute[s.Route]; dup {
			return nil, fmt.Errorf("duplicate route %q", s.Route)
		}
		if _, dup := r.byKey[s.Key]; dup {
			return nil, fmt.Errorf("duplicate step key %q", s.Key)
		}
		r.steps[i] = s
		r.byRoute[s.Route] = s.Number
		r.byKey[s.Key] = s.Number
	}

	return r, nil
}

// MustRegistry 与 NewRegistry 相同，出错时 panic，用于包级默认值
func MustRegistry(steps ...Step) *Registry {
	r, err := NewRegistry(steps...)
	if err != nil {
		panic(err)
	}
	return r
}

// DefaultSteps 线上使用的 8 步流程；收款账户在商户后台开通，不在流程内
func DefaultSteps() []Step {
	return []Step{
		{Number: 1, Key: StepKeyDocuments, Route: "/verification/documents", Title: "Identity documents"},
		{Number: 2, Key: StepKeySelfie, Route: "/verification/selfie", Title: "Selfie check"},
		{Number: 3, Key: StepKeyBusinessInfo, Route: "/verification/business-info", Title: "Business information"},
		{Number: 4, Key: StepKeyCategory, Route: "/verification/category", Title: "Service category"},
		{Number: 5, Key: StepKeyServices, Route: "/verification/services", Title: "Services and pricing"},
		{Number: 6, Key: StepKeyPortfolio, Route: "/verification/portfolio", Title: "Portfolio"},
		{Number: 7, Key: StepKeyBio, Route: "/verification/bio", Title: "Bio and experience"},
		{Number: 8, Key: StepKeyTerms, Route: "/verification/terms", Title: "Business terms"},
	}
}

var defaultRegistry = MustRegistry(DefaultSteps()...)

// DefaultRegistry 返回线上注册表
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Count 步骤总数
func (r *Registry) Count() int {
	return len(r.steps)
}

// CompleteMarker 全部完成时 FirstIncomplete 返回的哨兵值
func (r *Registry) CompleteMarker() int {
	return len(r.steps) + 1
}

// Steps 返回步骤列表副本
func (r *Registry) Steps() []Step {
	out := make([]Step, len(r.steps))
	copy(out, r.steps)
	return out
}

// Valid 判断步骤号是否在范围内
func (r *Registry) Valid(n int) bool {
	return n >= 1 && n <= len(r.steps)
}

func (r *Registry) check(n int) error {
	if !r.Valid(n) {
		return &InvalidStepError{Step: n, Count: len(r.steps)}
	}
	return nil
}

// Step 按步骤号取步骤
func (r *Registry) Step(n int) (Step, error) {
	if err := r.check(n); err != nil {
		return Step{}, err
	}
	return r.steps[n-1], nil
}

// StepByKey 按步骤键取步骤号
func (r *Registry) StepByKey(key string) (int, bool) {
	n, ok := r.byKey[key]
	return n, ok
}

// RouteForStep 步骤号 -> 路由
func (r *Registry) RouteForStep(n int) (Route, error) {
	s, err := r.Step(n)
	if err != nil {
		return "", err
	}
	return s.Route, nil
}

// StepForRoute 路由 -> 步骤号
func (r *Registry) StepForRoute(route Route) (int, error) {
	n, ok := r.byRoute[route]
	if !ok {
		return 0, pkgerrors.UnknownRoute.WithMessage("unknown verification route %q", route)
	}
	return n, nil
}

// NextStep 返回下一步；最后一步时 ok 为 false
func (r *Registry) NextStep(n int) (next int, ok bool, err error) {
	if err := r.check(n); err != nil {
		return 0, false, err
	}
	if n == len(r.steps) {
		return 0, false, nil
	}
	return n + 1, true, nil
}

// PreviousStep 返回上一步；第一步时 ok 为 false
func (r *Registry) PreviousStep(n int) (prev int, ok bool, err error) {
	if err := r.check(n); err != nil {
		return 0, false, err
	}
	if n == 1 {
		return 0, false, nil
	}
	return n - 1, true, nil
}
