package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/hr-orchestrator/internal/application/approval"
	"github.com/garyjia/hr-orchestrator/internal/application/resume"
	"github.com/garyjia/hr-orchestrator/internal/application/retry"
	"github.com/garyjia/hr-orchestrator/internal/application/service"
	"github.com/garyjia/hr-orchestrator/internal/application/workflow"
	"github.com/garyjia/hr-orchestrator/internal/domain/entity"
	"github.com/garyjia/hr-orchestrator/internal/domain/failure"
)

// ActorHeader names the caller when a body does not
const ActorHeader = "X-Actor-ID"

// ApprovalAPI is the part of the approval engine exposed over HTTP
type ApprovalAPI interface {
	SubmitDecision(ctx context.Context, approvalID int64, decision entity.Decision, comments, actorID string) (*approval.DecisionResult, error)
	DelegateApproval(ctx context.Context, approvalID int64, delegateToID, reason string) (*entity.ApprovalRequest, error)
	EscalateApproval(ctx context.Context, approvalID int64) (*approval.EscalationResult, error)
	GetChain(ctx context.Context, chainID int64) (*approval.ChainView, error)
	AddDelegationRule(ctx context.Context, rule *entity.DelegationRule) error
}

// ResumeAPI is the part of the resume coordinator exposed over HTTP
type ResumeAPI interface {
	GetWorkflowWaitStatus(ctx context.Context, instanceID int64) (*resume.WaitStatus, error)
	ForceResumeAllStuckWorkflows(ctx context.Context) (resume.SweepReport, error)
}

// DeadLetterAPI is the part of the retry queue exposed over HTTP
type DeadLetterAPI interface {
	List(ctx context.Context, status entity.DeadLetterStatus, limit int) ([]*entity.DeadLetterItem, error)
	Retry(ctx context.Context, id int64, actor string) (*entity.DeadLetterItem, error)
	Resolve(ctx context.Context, id int64, actor string) (*entity.DeadLetterItem, error)
	Abandon(ctx context.Context, id int64, actor string) (*entity.DeadLetterItem, error)
}

// Services bundles what the handlers call
type Services struct {
	Processes   service.ProcessService
	Tasks       service.TaskService
	Workflows   workflow.WorkflowEngine
	Approvals   ApprovalAPI
	Resume      ResumeAPI
	DeadLetters DeadLetterAPI
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	svc    Services
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(svc Services, logger Logger) *Handlers {
	return &Handlers{svc: svc, logger: logger}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// WorkflowResponse is an instance with its step records and history
type WorkflowResponse struct {
	Instance *entity.WorkflowInstance     `json:"instance"`
	Steps    []*entity.WorkflowStepStatus `json:"steps"`
	History  []*entity.WorkflowHistory    `json:"history"`
}

// StatusRequest is the body of PUT /api/processes/:id/status
type StatusRequest struct {
	Status  entity.ProcessStatus `json:"status" binding:"required"`
	Reason  string               `json:"reason"`
	ActorID string               `json:"actor_id"`
}

// ReasonRequest is an optional body carrying an actor and a reason
type ReasonRequest struct {
	Reason  string `json:"reason"`
	ActorID string `json:"actor_id"`
}

// CompleteStepRequest is the body of POST /api/workflows/:id/steps/:stepId/complete
type CompleteStepRequest struct {
	Payload map[string]interface{} `json:"payload"`
}

// DependencyRequest is the body of PUT /api/tasks/:id/dependency
type DependencyRequest struct {
	DependsOnID int64 `json:"depends_on_id" binding:"required,gt=0"`
}

// DecisionRequest is the body of POST /api/approvals/:id/decision
type DecisionRequest struct {
	Decision entity.Decision `json:"decision" binding:"required,oneof=APPROVE REJECT"`
	Comments string          `json:"comments"`
	ActorID  string          `json:"actor_id"`
}

// DelegateRequest is the body of POST /api/approvals/:id/delegate
type DelegateRequest struct {
	DelegateToID string `json:"delegate_to_id" binding:"required"`
	Reason       string `json:"reason"`
}

// DeadLetterQuery holds query parameters for listing dead letters
type DeadLetterQuery struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	ok(c, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	})
}

// InitiateProcess handles POST /api/processes
func (h *Handlers) InitiateProcess(c *gin.Context) {
	var req service.InitiateProcessInput
	if !h.bind(c, &req) {
		return
	}
	if req.ActorID == "" {
		req.ActorID = actor(c, "")
	}

	result, err := h.svc.Processes.InitiateProcess(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err, "failed to initiate process")
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: result})
}

// GetProcess handles GET /api/processes/:id
func (h *Handlers) GetProcess(c *gin.Context) {
	id, good := h.pathID(c, "id")
	if !good {
		return
	}
	view, err := h.svc.Processes.GetProcess(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "failed to get process")
		return
	}
	ok(c, view)
}

// UpdateProcessStatus handles PUT /api/processes/:id/status
func (h *Handlers) UpdateProcessStatus(c *gin.Context) {
	id, good := h.pathID(c, "id")
	if !good {
		return
	}
	var req StatusRequest
	if !h.bind(c, &req) {
		return
	}

	process, err := h.svc.Processes.UpdateStatus(c.Request.Context(), id, req.Status, req.Reason, actor(c, req.ActorID))
	if err != nil {
		h.fail(c, err, "failed to update process status")
		return
	}
	ok(c, process)
}

// CriticalPath handles GET /api/processes/:id/critical-path
func (h *Handlers) CriticalPath(c *gin.Context) {
	id, good := h.pathID(c, "id")
	if !good {
		return
	}
	path, err := h.svc.Tasks.CriticalPath(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "failed to compute critical path")
		return
	}
	ok(c, path)
}

// GetWorkflow handles GET /api/workflows/:id
func (h *Handlers) GetWorkflow(c *gin.Context) {
	id, good := h.pathID(c, "id")
	if !good {
		return
	}
	ctx := c.Request.Context()

	instance, err := h.svc.Workflows.GetInstance(ctx, id)
	if err != nil {
		h.fail(c, err, "failed to get workflow")
		return
	}
	steps, err := h.svc.Workflows.ListStepStatuses(ctx, id)
	if err != nil {
		h.fail(c, err, "failed to list workflow steps")
		return
	}
	history, err := h.svc.Workflows.ListHistory(ctx, id)
	if err != nil {
		h.fail(c, err, "failed to list workflow history")
		return
	}
	ok(c, WorkflowResponse{Instance: instance, Steps: steps, History: history})
}

// WaitStatus handles GET /api/workflows/:id/wait-status
func (h *Handlers) WaitStatus(c *gin.Context) {
	id, good := h.pathID(c, "id")
	if !good {
		return
	}
	status, err := h.svc.Resume.GetWorkflowWaitStatus(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "failed to get wait status")
		return
	}
	ok(c, status)
}

// CompleteStep handles POST /api/workflows/:id/steps/:stepId/complete.
// The instance continues running after the wait is released.
func (h *Handlers) CompleteStep(c *gin.Context) {
	id, good := h.pathID(c, "id")
	if !good {
		return
	}
	var req CompleteStepRequest
	if !h.bindOptional(c, &req) {
		return
	}
	ctx := c.Request.Context()
	stepID := c.Param("stepId")

	completed, err := h.svc.Workflows.CompleteWaitingStep(ctx, id, stepID, req.Payload)
	if err != nil {
		h.fail(c, err, "failed to complete step")
		return
	}
	if !completed {
		h.fail(c, failure.ErrConflict, "step "+stepID+" is not waiting")
		return
	}

	instance, err := h.svc.Workflows.Run(ctx, id)
	if err != nil {
		h.fail(c, err, "failed to continue workflow")
		return
	}
	ok(c, instance)
}

// PauseWorkflow handles POST /api/workflows/:id/pause
func (h *Handlers) PauseWorkflow(c *gin.Context) {
	h.workflowAction(c, "failed to pause workflow", func(ctx context.Context, id int64, req ReasonRequest, actorID string) (*entity.WorkflowInstance, error) {
		return h.svc.Workflows.Pause(ctx, id, actorID, req.Reason)
	})
}

// ResumeWorkflow handles POST /api/workflows/:id/resume
func (h *Handlers) ResumeWorkflow(c *gin.Context) {
	h.workflowAction(c, "failed to resume workflow", func(ctx context.Context, id int64, _ ReasonRequest, actorID string) (*entity.WorkflowInstance, error) {
		return h.svc.Workflows.Resume(ctx, id, actorID)
	})
}

// CancelWorkflow handles POST /api/workflows/:id/cancel
func (h *Handlers) CancelWorkflow(c *gin.Context) {
	h.workflowAction(c, "failed to cancel workflow", func(ctx context.Context, id int64, req ReasonRequest, actorID string) (*entity.WorkflowInstance, error) {
		return h.svc.Workflows.Cancel(ctx, id, actorID, req.Reason)
	})
}

func (h *Handlers) workflowAction(c *gin.Context, msg string, fn func(context.Context, int64, ReasonRequest, string) (*entity.WorkflowInstance, error)) {
	id, good := h.pathID(c, "id")
	if !good {
		return
	}
	var req ReasonRequest
	if !h.bindOptional(c, &req) {
		return
	}
	instance, err := fn(c.Request.Context(), id, req, actor(c, req.ActorID))
	if err != nil {
		h.fail(c, err, msg)
		return
	}
	ok(c, instance)
}

// ResumeStuck handles POST /api/workflows/resume-stuck
func (h *Handlers) ResumeStuck(c *gin.Context) {
	report, err := h.svc.Resume.ForceResumeAllStuckWorkflows(c.Request.Context())
	if err != nil {
		h.fail(c, err, "failed to resume stuck workflows")
		return
	}
	h.logger.Info("Forced resume sweep", "scanned", report.Scanned, "resumed", report.Resumed, "failed", report.Failed)
	ok(c, report)
}

// CompleteTask handles POST /api/tasks/:id/complete
func (h *Handlers) CompleteTask(c *gin.Context) {
	id, good := h.pathID(c, "id")
	if !good {
		return
	}
	var req ReasonRequest
	if !h.bindOptional(c, &req) {
		return
	}
	outcome, err := h.svc.Tasks.CompleteTask(c.Request.Context(), id, actor(c, req.ActorID))
	if err != nil {
		h.fail(c, err, "failed to complete task")
		return
	}
	ok(c, outcome)
}

// SkipTask handles POST /api/tasks/:id/skip
func (h *Handlers) SkipTask(c *gin.Context) {
	id, good := h.pathID(c, "id")
	if !good {
		return
	}
	var req ReasonRequest
	if !h.bindOptional(c, &req) {
		return
	}
	outcome, err := h.svc.Tasks.SkipTask(c.Request.Context(), id, actor(c, req.ActorID), req.Reason)
	if err != nil {
		h.fail(c, err, "failed to skip task")
		return
	}
	ok(c, outcome)
}

// SetDependency handles PUT /api/tasks/:id/dependency
func (h *Handlers) SetDependency(c *gin.Context) {
	id, good := h.pathID(c, "id")
	if !good {
		return
	}
	var req DependencyRequest
	if !h.bind(c, &req) {
		return
	}
	task, err := h.svc.Tasks.SetDependency(c.Request.Context(), id, req.DependsOnID)
	if err != nil {
		h.fail(c, err, "failed to set dependency")
		return
	}
	ok(c, task)
}

// RemoveDependency handles DELETE /api/tasks/:id/dependency
func (h *Handlers) RemoveDependency(c *gin.Context) {
	id, good := h.pathID(c, "id")
	if !good {
		return
	}
	task, err := h.svc.Tasks.RemoveDependency(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "failed to remove dependency")
		return
	}
	ok(c, task)
}

// SubmitDecision handles POST /api/approvals/:id/decision
func (h *Handlers) SubmitDecision(c *gin.Context) {
	id, good := h.pathID(c, "id")
	if !good {
		return
	}
	var req DecisionRequest
	if !h.bind(c, &req) {
		return
	}
	result, err := h.svc.Approvals.SubmitDecision(c.Request.Context(), id, req.Decision, req.Comments, actor(c, req.ActorID))
	if err != nil {
		h.fail(c, err, "failed to submit decision")
		return
	}
	ok(c, result)
}

// DelegateApproval handles POST /api/approvals/:id/delegate
func (h *Handlers) DelegateApproval(c *gin.Context) {
	id, good := h.pathID(c, "id")
	if !good {
		return
	}
	var req DelegateRequest
	if !h.bind(c, &req) {
		return
	}
	request, err := h.svc.Approvals.DelegateApproval(c.Request.Context(), id, req.DelegateToID, req.Reason)
	if err != nil {
		h.fail(c, err, "failed to delegate approval")
		return
	}
	ok(c, request)
}

// EscalateApproval handles POST /api/approvals/:id/escalate
func (h *Handlers) EscalateApproval(c *gin.Context) {
	id, good := h.pathID(c, "id")
	if !good {
		return
	}
	result, err := h.svc.Approvals.EscalateApproval(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "failed to escalate approval")
		return
	}
	ok(c, result)
}

// GetChain handles GET /api/approval-chains/:id
func (h *Handlers) GetChain(c *gin.Context) {
	id, good := h.pathID(c, "id")
	if !good {
		return
	}
	view, err := h.svc.Approvals.GetChain(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "failed to get approval chain")
		return
	}
	ok(c, view)
}

// AddDelegationRule handles POST /api/delegations
func (h *Handlers) AddDelegationRule(c *gin.Context) {
	var rule entity.DelegationRule
	if !h.bind(c, &rule) {
		return
	}
	if err := h.svc.Approvals.AddDelegationRule(c.Request.Context(), &rule); err != nil {
		h.fail(c, err, "failed to add delegation rule")
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: rule})
}

// ListDeadLetters handles GET /api/dead-letters
func (h *Handlers) ListDeadLetters(c *gin.Context) {
	var q DeadLetterQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.fail(c, failure.Validationf("invalid query parameters: %v", err), "invalid query parameters")
		return
	}
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 100
	}
	status := entity.DeadLetterStatus(q.Status)
	if status == "" {
		status = entity.DeadLetterStatusPending
	}

	items, err := h.svc.DeadLetters.List(c.Request.Context(), status, q.Limit)
	if err != nil {
		h.fail(c, err, "failed to list dead letters")
		return
	}
	ok(c, items)
}

// RetryDeadLetter handles POST /api/dead-letters/:id/retry
func (h *Handlers) RetryDeadLetter(c *gin.Context) {
	h.deadLetterAction(c, h.svc.DeadLetters.Retry, "failed to retry dead letter")
}

// ResolveDeadLetter handles POST /api/dead-letters/:id/resolve
func (h *Handlers) ResolveDeadLetter(c *gin.Context) {
	h.deadLetterAction(c, h.svc.DeadLetters.Resolve, "failed to resolve dead letter")
}

// AbandonDeadLetter handles POST /api/dead-letters/:id/abandon
func (h *Handlers) AbandonDeadLetter(c *gin.Context) {
	h.deadLetterAction(c, h.svc.DeadLetters.Abandon, "failed to abandon dead letter")
}

func (h *Handlers) deadLetterAction(c *gin.Context, fn func(context.Context, int64, string) (*entity.DeadLetterItem, error), msg string) {
	id, good := h.pathID(c, "id")
	if !good {
		return
	}
	item, err := fn(c.Request.Context(), id, actor(c, ""))
	if err != nil {
		h.fail(c, err, msg)
		return
	}
	ok(c, item)
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func (h *Handlers) pathID(c *gin.Context, name string) (int64, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.logger.Error("Invalid path id", name, raw)
		c.JSON(http.StatusBadRequest, Response{Error: "invalid " + name})
		return 0, false
	}
	return id, true
}

func (h *Handlers) bind(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.logger.Error("Invalid request body", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusBadRequest, Response{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// bindOptional accepts an empty body
func (h *Handlers) bindOptional(c *gin.Context, dst interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return h.bind(c, dst)
}

func (h *Handlers) fail(c *gin.Context, err error, msg string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, Response{Error: msg + ": " + err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, failure.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, failure.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, failure.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, failure.ErrWorkflowLogic):
		return http.StatusUnprocessableEntity
	case errors.Is(err, failure.ErrTransientStore), errors.Is(err, failure.ErrSyncDivergence), errors.Is(err, retry.ErrExhausted):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func actor(c *gin.Context, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	if v := c.GetHeader(ActorHeader); v != "" {
		return v
	}
	return "api"
}
