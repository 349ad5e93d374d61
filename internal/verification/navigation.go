package verification

import (
	"verifyflow/internal/model"
)

// Navigator 根据当前路由和完成情况决定下一个页面
type Navigator struct {
	registry  *Registry
	evaluator *Evaluator
}

// NewNavigator 创建导航器，evaluator 必须使用同一个注册表
func NewNavigator(ev *Evaluator) *Navigator {
	return &Navigator{registry: ev.Registry(), evaluator: ev}
}

// NavigateNext 下一步的路由，最后一步之后进入流程完成页
func (n *Navigator) NavigateNext(current Route) (Route, error) {
	step, err := n.registry.StepForRoute(current)
	if err != nil {
		return "", err
	}
	next, ok, err := n.registry.NextStep(step)
	if err != nil {
		return "", err
	}
	if !ok {
		return RouteFlowComplete, nil
	}
	return n.registry.RouteForStep(next)
}

// NavigateBack 上一步的路由，第一步时原地不动
func (n *Navigator) NavigateBack(current Route) (Route, error) {
	step, err := n.registry.StepForRoute(current)
	if err != nil {
		return "", err
	}
	prev, ok, err := n.registry.PreviousStep(step)
	if err != nil {
		return "", err
	}
	if !ok {
		return current, nil
	}
	return n.registry.RouteForStep(prev)
}

// NavigateToStep 直接跳转到某一步
func (n *Navigator) NavigateToStep(step int) (Route, error) {
	return n.registry.RouteForStep(step)
}

// ResolveResumeRoute 登录后决定把服务商放回流程的哪个位置
//
// approved 直接进入主应用，不再计算完成度；待审核与被拒分别进入等待页和驳回页，
// 其余状态取第一个未完成的步骤。
func (n *Navigator) ResolveResumeRoute(view *model.CachedProgressView) Route {
	if view == nil || view.Progress == nil {
		return n.firstRoute()
	}

	status := view.Progress.VerificationStatus
	switch {
	case UnlocksProduct(status):
		return RouteMainApp
	case AwaitingReview(status):
		return RouteAwaitingReview
	case status == model.StatusRejected:
		return RouteRejected
	}

	step := n.evaluator.FirstIncompleteStep(view.StepData)
	if step == n.registry.CompleteMarker() {
		return RouteFlowComplete
	}
	route, err := n.registry.RouteForStep(step)
	if err != nil {
		return n.firstRoute()
	}
	return route
}

func (n *Navigator) firstRoute() Route {
	route, _ := n.registry.RouteForStep(1)
	return route
}
