package handler

import (
	"context"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"

	"verifyflow/internal/model"
	"verifyflow/internal/model/dto"
	"verifyflow/internal/service"
	"verifyflow/pkg/errors"
	"verifyflow/pkg/response"
)

// ReviewHandler 审核人员接口，路径中的 provider_id 为被审核的服务商
type ReviewHandler struct {
	svc *service.VerificationService
}

func NewReviewHandler(svc *service.VerificationService) *ReviewHandler {
	return &ReviewHandler{svc: svc}
}

func targetProvider(ctx context.Context, c *app.RequestContext) (string, bool) {
	id := strings.TrimSpace(c.Param("provider_id"))
	if id == "" {
		response.Error(ctx, c, errors.InvalidProviderID)
		return "", false
	}
	return id, true
}

func (h *ReviewHandler) respond(ctx context.Context, c *app.RequestContext, p *model.VerificationProgress, err error) {
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, dto.NewStatusResponse(p))
}

// StartReview POST /v1/admin/providers/:provider_id/review
func (h *ReviewHandler) StartReview(ctx context.Context, c *app.RequestContext) {
	id, ok := targetProvider(ctx, c)
	if !ok {
		return
	}
	p, err := h.svc.StartReview(ctx, id)
	h.respond(ctx, c, p, err)
}

// Approve POST /v1/admin/providers/:provider_id/approve
func (h *ReviewHandler) Approve(ctx context.Context, c *app.RequestContext) {
	id, ok := targetProvider(ctx, c)
	if !ok {
		return
	}
	p, err := h.svc.Approve(ctx, id)
	h.respond(ctx, c, p, err)
}

// Reject POST /v1/admin/providers/:provider_id/reject
func (h *ReviewHandler) Reject(ctx context.Context, c *app.RequestContext) {
	id, ok := targetProvider(ctx, c)
	if !ok {
		return
	}

	var req dto.RejectRequest
	if err := c.BindJSON(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	p, err := h.svc.Reject(ctx, id, req.Reason)
	h.respond(ctx, c, p, err)
}

// Reconcile POST /v1/admin/providers/:provider_id/reconcile
func (h *ReviewHandler) Reconcile(ctx context.Context, c *app.RequestContext) {
	id, ok := targetProvider(ctx, c)
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
