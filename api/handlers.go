/*
handlers.go - HTTP handlers for the installment console

ENDPOINTS:
  Schedules:
    POST   /api/schedules/preview               - Generate a schedule without saving it

  Drafts (edit sessions):
    GET    /api/drafts                          - List drafts, most recent first
    POST   /api/drafts                          - Start a draft, optionally loading a policy
    GET    /api/drafts/{id}                     - Get a draft
    DELETE /api/drafts/{id}                     - Discard a draft
    POST   /api/drafts/{id}/generate            - Generate (or merge) a schedule
    POST   /api/drafts/{id}/reset               - Discard unsaved edits
    DELETE /api/drafts/{id}/installments/{lid}  - Remove one installment
    PATCH  /api/drafts/{id}/installments/{lid}  - Correct one installment's date or amount
    POST   /api/drafts/{id}/submit              - Send the draft to the Policy API

  Policies:
    GET    /api/policies                        - List policies with an installment summary
    DELETE /api/policies/{id}                   - Delete a policy
    GET    /api/policies/{id}/installments      - Persisted installments with status
    POST   /api/installments/{id}/pay           - Record a payment

ERROR HANDLING:
  All errors go through fail(), which maps them to a status code:
  - 400 Bad Request: malformed body or invalid generator input
  - 404 Not Found: unknown draft, installment or policy
  - 409 Conflict: draft changed concurrently or is being submitted
  - 422 Unprocessable Entity: schedule cannot be reconciled or submitted
  - 502 Bad Gateway: the Policy API failed or a submission was partial
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/policy-installments/draft"
	"github.com/warp/policy-installments/installment"
	"github.com/warp/policy-installments/observability"
	"github.com/warp/policy-installments/policyapi"
	"github.com/warp/policy-installments/submit"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// PolicyClient is the subset of the Policy API used directly by handlers.
type PolicyClient interface {
	ListPolicies(ctx context.Context) ([]policyapi.Policy, error)
	FetchPolicy(ctx context.Context, id installment.PolicyID) (*policyapi.Policy, error)
	DeletePolicy(ctx context.Context, id installment.PolicyID) error
	RecordPayment(ctx context.Context, id installment.PersistedID, paidOn installment.Date) (*policyapi.Installment, error)
}

// Submitter sends drafts to the Policy API.
type Submitter interface {
	Submit(ctx context.Context, policyID installment.PolicyID, fields *policyapi.PolicyInput, schedule []installment.Installment) (*submit.Result, error)
	SubmitNew(ctx context.Context, in policyapi.PolicyInput, schedule []installment.Installment) (*submit.Result, error)
}

// Deps are the collaborators of a Handler. Generator, Clock, Metrics,
// Logger and Now are optional.
type Deps struct {
	Drafts    draft.Store
	Policies  PolicyClient
	Submitter Submitter
	Generator *installment.Generator
	Clock     installment.Clock
	Metrics   *observability.Metrics
	Logger    *zap.Logger
	Now       func() time.Time
}

// Handler contains HTTP handlers.
type Handler struct {
	drafts    draft.Store
	policies  PolicyClient
	submitter Submitter
	generator *installment.Generator
	clock     installment.Clock
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewHandler creates a new handler.
func NewHandler(deps Deps) *Handler {
	h := &Handler{
		drafts:    deps.Drafts,
		policies:  deps.Policies,
		submitter: deps.Submitter,
		generator: deps.Generator,
		clock:     deps.Clock,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		now:       deps.Now,
	}
	if h.generator == nil {
		h.generator = installment.DefaultGenerator
	}
	if h.clock == nil {
		h.clock = installment.SystemClock{}
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.now == nil {
		h.now = func() time.Time { return time.Now().UTC() }
	}
	return h
}

// =============================================================================
// SCHEDULE HANDLERS
// =============================================================================

// PreviewSchedule generates a schedule without touching any state.
func (h *Handler) PreviewSchedule(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	schedule, err := h.generator.Generate(req.Total, req.Count, req.FirstDueDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.recordSchedule(len(schedule))

	writeJSON(w, http.StatusOK, toScheduleResponse("", schedule, h.clock.Today()))
}

// =============================================================================
// DRAFT HANDLERS
// =============================================================================

// ListDrafts returns all drafts.
func (h *Handler) ListDrafts(w http.ResponseWriter, r *http.Request) {
	drafts, err := h.drafts.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	today := h.clock.Today()
	dtos := make([]DraftDTO, len(drafts))
	for i, d := range drafts {
		dtos[i] = toDraftDTO(d, today)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateDraft starts an edit session. With a policy id the persisted
// installments are loaded first.
func (h *Handler) CreateDraft(w http.ResponseWriter, r *http.Request) {
	var req CreateDraftRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	d := draft.New(h.now())
	if req.PolicyID != "" {
		load, err := h.loadPolicy(r.Context(), installment.PolicyID(req.PolicyID))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		// Reduce bumps the version; a fresh draft starts at 1 either way.
		if d, err = draft.Reduce(d, load, h.generator); err != nil {
			h.fail(w, r, err)
			return
		}
		d.Version = 1
	}

	if err := h.drafts.Create(r.Context(), d); err != nil {
		h.fail(w, r, err)
		return
	}

	h.logger.Info("draft created",
		zap.String("draft_id", string(d.ID)),
		zap.String("policy_id", string(d.PolicyID)),
		zap.Int("installments", len(d.Installments)),
	)
	writeJSON(w, http.StatusCreated, toDraftDTO(d, h.clock.Today()))
}

// GetDraft returns a single draft.
func (h *Handler) GetDraft(w http.ResponseWriter, r *http.Request) {
	d, err := h.drafts.Get(r.Context(), draftID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftDTO(d, h.clock.Today()))
}

// DeleteDraft discards a draft.
func (h *Handler) DeleteDraft(w http.ResponseWriter, r *http.Request) {
	if err := h.drafts.Delete(r.Context(), draftID(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GenerateDraft generates a schedule into the draft. When the draft edits a
// policy the persisted installments are marked for removal and kept.
func (h *Handler) GenerateDraft(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	d, err := draft.Apply(r.Context(), h.drafts, draftID(r), draft.Generate{
		Total:        req.Total,
		Count:        req.Count,
		FirstDueDate: req.FirstDueDate,
	}, h.generator, h.now())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.recordSchedule(req.Count)

	writeJSON(w, http.StatusOK, toDraftDTO(d, h.clock.Today()))
}

// ResetDraft discards unsaved edits.
func (h *Handler) ResetDraft(w http.ResponseWriter, r *http.Request) {
	d, err := draft.Apply(r.Context(), h.drafts, draftID(r), draft.Reset{}, h.generator, h.now())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftDTO(d, h.clock.Today()))
}

// RemoveInstallment removes one installment from the draft.
func (h *Handler) RemoveInstallment(w http.ResponseWriter, r *http.Request) {
	localID := installment.LocalID(chi.URLParam(r, "localID"))

	d, err := draft.Apply(r.Context(), h.drafts, draftID(r), draft.Remove{LocalID: localID}, h.generator, h.now())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftDTO(d, h.clock.Today()))
}

// EditInstallment corrects the due date and/or amount of one installment.
func (h *Handler) EditInstallment(w http.ResponseWriter, r *http.Request) {
	var req EditInstallmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	d, err := draft.Apply(r.Context(), h.drafts, draftID(r), draft.Edit{
		LocalID: installment.LocalID(chi.URLParam(r, "localID")),
		DueDate: req.DueDate,
		Amount:  req.Amount,
	}, h.generator, h.now())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftDTO(d, h.clock.Today()))
}

// SubmitDraft sends the draft to the Policy API.
//
// The draft is claimed first, so a second submit of the same draft gets 409
// while the first is running. On success the draft is deleted. When some
// writes went through and others did not, the draft is released and
// reloaded from the policy so a retry does not create the same installments
// twice, and 502 is returned with what was created.
func (h *Handler) SubmitDraft(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	d, err := h.drafts.Get(ctx, draftID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !d.Editing && req.Policy == nil {
		writeError(w, http.StatusBadRequest, "Policy is required to submit a new schedule", nil)
		return
	}

	if d, err = draft.Claim(ctx, h.drafts, d.ID, h.now()); err != nil {
		h.fail(w, r, err)
		return
	}

	var res *submit.Result
	if d.Editing {
		res, err = h.submitter.Submit(ctx, d.PolicyID, req.Policy, d.Installments)
	} else {
		res, err = h.submitter.SubmitNew(ctx, *req.Policy, d.Installments)
	}

	today := h.clock.Today()
	switch {
	case err == nil, errors.Is(err, submit.ErrRefreshFailed):
		if derr := h.drafts.Delete(ctx, d.ID); derr != nil && !errors.Is(derr, draft.ErrDraftNotFound) {
			h.logger.Warn("failed to delete submitted draft", zap.String("draft_id", string(d.ID)), zap.Error(derr))
		}
		resp := toSubmitResponse(res, today)
		if err != nil {
			resp.Error = err.Error()
		}
		writeJSON(w, http.StatusOK, resp)

	case res != nil && res.PolicyID != "" && (len(res.Created) > 0 || len(res.Deleted) > 0 || !d.Editing):
		h.release(ctx, d.ID)
		h.resync(ctx, d.ID, res.PolicyID)
		resp := toSubmitResponse(res, today)
		resp.Error = err.Error()
		h.logFailure(r, http.StatusBadGateway, err)
		writeJSON(w, http.StatusBadGateway, resp)

	default:
		h.release(ctx, d.ID)
		h.fail(w, r, err)
	}
}

// release clears the submission claim. It runs after the request may have
// been cancelled, so it does not inherit the cancellation.
func (h *Handler) release(ctx context.Context, id draft.ID) {
	if _, err := draft.Release(context.WithoutCancel(ctx), h.drafts, id, h.now()); err != nil {
		h.logger.Warn("failed to release draft after submission",
			zap.String("draft_id", string(id)),
			zap.Error(err),
		)
	}
}

// resync points the draft at the persisted state of policyID. Failures are
// only logged; the submission error is what the caller needs to see.
func (h *Handler) resync(ctx context.Context, id draft.ID, policyID installment.PolicyID) {
	ctx = context.WithoutCancel(ctx)
	load, err := h.loadPolicy(ctx, policyID)
	if err == nil {
		_, err = draft.Apply(ctx, h.drafts, id, load, h.generator, h.now())
	}
	if err != nil {
		h.logger.Warn("failed to resync draft after partial submission",
			zap.String("draft_id", string(id)),
			zap.String("policy_id", string(policyID)),
			zap.Error(err),
		)
	}
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// ListPolicies returns every policy with a summary of its installments.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.policies.ListPolicies(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	today := h.clock.Today()
	dtos := make([]PolicyDTO, 0, len(policies))
	for _, p := range policies {
		dto, err := toPolicyDTO(p, today)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// DeletePolicy deletes a policy and its installments in the Policy API.
func (h *Handler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	policyID := installment.PolicyID(chi.URLParam(r, "id"))

	if err := h.policies.DeletePolicy(r.Context(), policyID); err != nil {
		h.fail(w, r, err)
		return
	}

	h.logger.Info("policy deleted", zap.String("policy_id", string(policyID)))
	w.WriteHeader(http.StatusNoContent)
}

// GetPolicyInstallments returns the persisted installments of a policy with
// their derived status.
func (h *Handler) GetPolicyInstallments(w http.ResponseWriter, r *http.Request) {
	policyID := installment.PolicyID(chi.URLParam(r, "id"))

	load, err := h.loadPolicy(r.Context(), policyID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleResponse(policyID, load.Installments, h.clock.Today()))
}

// PayInstallment records a payment on a persisted installment.
func (h *Handler) PayInstallment(w http.ResponseWriter, r *http.Request) {
	id := installment.PersistedID(chi.URLParam(r, "id"))

	var req PayRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	paidOn := req.PaymentDate
	if paidOn.IsZero() {
		paidOn = h.clock.Today()
	}

	saved, err := h.policies.RecordPayment(r.Context(), id, paidOn)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	inst, err := saved.ToDomain()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if inst.PaymentDate == nil {
		// Older API versions answer without the payment date.
		inst.PaymentDate = &paidOn
	}

	h.logger.Info("payment recorded",
		zap.String("installment_id", string(id)),
		zap.Stringer("paid_on", paidOn),
	)
	writeJSON(w, http.StatusOK, toInstallmentDTOs([]installment.Installment{inst}, h.clock.Today())[0])
}

// =============================================================================
// HELPERS
// =============================================================================

// decodeOptional decodes a JSON body that may be absent.
func decodeOptional(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func draftID(r *http.Request) draft.ID {
	return draft.ID(chi.URLParam(r, "id"))
}

func (h *Handler) loadPolicy(ctx context.Context, id installment.PolicyID) (draft.LoadPolicy, error) {
	policy, err := h.policies.FetchPolicy(ctx, id)
	if err != nil {
		return draft.LoadPolicy{}, err
	}
	schedule, err := policy.Schedule()
	if err != nil {
		return draft.LoadPolicy{}, err
	}
	return draft.LoadPolicy{PolicyID: id, Installments: schedule}, nil
}

func (h *Handler) recordSchedule(n int) {
	if h.metrics != nil {
		h.metrics.RecordSchedule(n)
	}
}

// fail maps err to a status code and writes it.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	h.logFailure(r, status, err)

	resp := ErrorResponse{Error: message, Details: err.Error()}

	var verr *installment.ValidationError
	var rerr *installment.ReconciliationError
	switch {
	case errors.As(err, &verr):
		resp.Code = "validation"
		resp.Details = map[string]string{"field": verr.Field, "message": verr.Message}
	case errors.As(err, &rerr):
		resp.Code = "reconciliation"
		resp.Details = map[string]any{
			"local_id":        rerr.LocalID,
			"persisted_id":    rerr.PersistedID,
			"sequence_number": rerr.SequenceNumber,
			"reason":          rerr.Reason,
		}
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) (int, string) {
	var verr *installment.ValidationError
	switch {
	case errors.Is(err, draft.ErrDraftNotFound):
		return http.StatusNotFound, "Draft not found"
	case installment.IsNotFound(err):
		return http.StatusNotFound, "Installment not found"
	case policyapi.IsNotFound(err):
		return http.StatusNotFound, "Policy not found"
	case errors.Is(err, draft.ErrConcurrentModification):
		return http.StatusConflict, "Draft was modified concurrently"
	case errors.Is(err, draft.ErrDuplicate):
		return http.StatusConflict, "Draft already exists"
	case errors.Is(err, draft.ErrSubmissionInProgress):
		return http.StatusConflict, "Draft is being submitted"
	case errors.As(err, &verr) && !errors.Is(err, installment.ErrInvalidSchedule):
		return http.StatusBadRequest, "Invalid schedule parameters"
	case installment.IsClientError(err), errors.Is(err, submit.ErrPersistedInNewPolicy):
		return http.StatusUnprocessableEntity, "Schedule cannot be applied"
	case policyapi.IsRejected(err):
		return http.StatusUnprocessableEntity, "Rejected by the Policy API"
	case errors.Is(err, policyapi.ErrUnavailable),
		errors.Is(err, policyapi.ErrUnauthorized),
		errors.Is(err, policyapi.ErrMalformedResponse):
		return http.StatusBadGateway, "Policy API request failed"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

func (h *Handler) logFailure(r *http.Request, status int, err error) {
	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	}
	if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
		fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", fields...)
		return
	}
	h.logger.Debug("request rejected", fields...)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
