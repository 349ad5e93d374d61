package handler

import (
	"context"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"

	"verifyflow/internal/middleware"
	"verifyflow/internal/model"
	"verifyflow/internal/model/dto"
	"verifyflow/internal/service"
	"verifyflow/internal/verification"
	"verifyflow/pkg/errors"
	"verifyflow/pkg/response"
)

// DeviceSessionHeader 客户端携带的设备会话 ID
const DeviceSessionHeader = "X-Device-Session"

// VerificationHandler 服务商侧认证流程接口
type VerificationHandler struct {
	svc *service.VerificationService
}

func NewVerificationHandler(svc *service.VerificationService) *VerificationHandler {
	return &VerificationHandler{svc: svc}
}

// providerID 未认证时写出 401 并返回 false
func providerID(ctx context.Context, c *app.RequestContext) (string, bool) {
	id, ok := middleware.GetProviderID(ctx, c)
	if !ok {
		response.Error(ctx, c, errors.Unauthorized)
		return "", false
	}
	return id, true
}

// GetProgress 查询认证进度，首次访问时创建默认进度
// GET /v1/verification/progress
func (h *VerificationHandler) GetProgress(ctx context.Context, c *app.RequestContext) {
	id, ok := providerID(ctx, c)
	if !ok {
		return
	}

	view, err := h.svc.GetVerificationData(ctx, id)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, h.progressResponse(view))
}

func (h *VerificationHandler) progressResponse(view *model.CachedProgressView) dto.ProgressResponse {
	reg := h.svc.Registry()
	steps := make([]dto.StepStatus, 0, reg.Count())
	for _, st := range reg.Steps() {
		steps = append(steps, dto.StepStatus{
			Number:    st.Number,
			Key:       st.Key,
			Title:     st.Title,
			Route:     st.Route,
			Completed: view.Progress.StepsCompleted[st.Number],
		})
	}

	status := view.Progress.VerificationStatus
	return dto.ProgressResponse{
		Progress:     view.Progress,
		StepData:     view.StepData,
		Steps:        steps,
		ResumeRoute:  h.svc.Navigator().ResolveResumeRoute(view),
		FetchedAt:    view.FetchedAt,
		TotalSteps:   reg.Count(),
		UnlocksApp:   verification.UnlocksProduct(status),
		AwaitsReview: verification.AwaitingReview(status),
	}
}

// CompleteStep 提交一步，completed=false 表示取消完成
// POST /v1/verification/steps/:step/complete
func (h *VerificationHandler) CompleteStep(ctx context.Context, c *app.RequestContext) {
	id, ok := providerID(ctx, c)
	if !ok {
		return
	}

	step, err := strconv.Atoi(c.Param("step"))
	if err != nil {
		response.Error(ctx, c, errors.InvalidStep.WithMessage("step must be an integer"))
		return
	}

	var req dto.CompleteStepRequest
	if len(c.Request.Body()) > 0 {
		if err := c.BindJSON(&req); err != nil {
			response.BindError(ctx, c, err)
			return
		}
	}

	result, err := h.svc.CompleteStep(ctx, id, step, req.IsCompleted(), req.Payload)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.SuccessWithMeta(ctx, c, dto.CompleteStepResponse{
		Progress:  result.Progress,
		NextRoute: result.NextRoute,
	}, map[string]interface{}{
		"tables": result.Tables,
	})
}

// NavigateNext 下一步路由，最后一步之后为完成页
// GET /v1/verification/navigation/next?route=
func (h *VerificationHandler) NavigateNext(ctx context.Context, c *app.RequestContext) {
	if _, ok := providerID(ctx, c); !ok {
		return
	}

	route, err := h.svc.Navigator().NavigateNext(verification.Route(c.Query("route")))
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, dto.NavigationResponse{Route: route})
}

// NavigateBack 上一步路由，第一步返回自身
// GET /v1/verification/navigation/back?route=
func (h *VerificationHandler) NavigateBack(ctx context.Context, c *app.RequestContext) {
	if _, ok := providerID(ctx, c); !ok {
		return
	}

	route, err := h.svc.Navigator().NavigateBack(verification.Route(c.Query("route")))
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, dto.NavigationResponse{Route: route})
}

// NavigateToStep 步骤号对应的路由
// GET /v1/verification/navigation/step/:step
func (h *VerificationHandler) NavigateToStep(ctx context.Context, c *app.RequestContext) {
	if _, ok := providerID(ctx, c); !ok {
		return
	}

	step, err := strconv.Atoi(c.Param("step"))
	if err != nil {
		response.Error(ctx, c, errors.InvalidStep.WithMessage("step must be an integer"))
		return
	}

	route, err := h.svc.Navigator().NavigateToStep(step)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, dto.NavigationResponse{Route: route})
}

// Resume 登录后决定回到哪个页面，同时返回会话中断与跨设备冲突信息
// GET /v1/verification/resume
func (h *VerificationHandler) Resume(ctx context.Context, c *app.RequestContext) {
	id, ok := providerID(ctx, c)
	if !ok {
		return
	}

	device := string(c.GetHeader(DeviceSessionHeader))
	if device == "" {
		device = c.Query("device_session_id")
	}

	res, err := h.svc.Resume(ctx, id, device)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, dto.ResumeResponse{
		Route:           res.Route,
		Session:         res.Session,
		Conflict:        res.Conflict,
		DeviceSessionID: device,
		Status:          res.View.Progress.VerificationStatus,
	})
}

// ResolveConflict 跨设备冲突时由用户选择保留哪一端
// POST /v1/verification/conflict/resolve
func (h *VerificationHandler) ResolveConflict(ctx context.Context, c *app.RequestContext) {
	id, ok := providerID(ctx, c)
	if !ok {
		return
	}

	var req dto.ResolveConflictRequest
	if err := c.BindJSON(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	device, err := h.svc.ResolveConflict(ctx, id, req.DeviceSessionID, req.Choice)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, dto.ResolveConflictResponse{DeviceSessionID: device})
}

// Resubmit 被拒后重新进入流程
// POST /v1/verification/resubmit
func (h *VerificationHandler) Resubmit(ctx context.Context, c *app.RequestContext) {
	id, ok := providerID(ctx, c)
	if !ok {
		return
	}

	p, err := h.svc.Resubmit(ctx, id)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, dto.NewStatusResponse(p))
}

// Reconcile 以实际数据为准修正完成标记
// POST /v1/verification/reconcile
func (h *VerificationHandler) Reconcile(ctx context.Context, c *app.RequestContext) {
	id, ok := providerID(ctx, c)
	if !ok {
		return
	}

	report, err := h.svc.Reconcile(ctx, id)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, report)
}
