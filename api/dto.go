/*
dto.go - Request and response bodies of the console API

Amounts are decimals rendered as JSON strings; dates are YYYY-MM-DD. Every
installment in a response carries its derived status as of the server's
calendar day.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/policy-installments/draft"
	"github.com/warp/policy-installments/installment"
	"github.com/warp/policy-installments/policyapi"
	"github.com/warp/policy-installments/submit"
)

// =============================================================================
// REQUESTS
// =============================================================================

// GenerateRequest carries generator inputs. Used by preview and by draft
// generation.
type GenerateRequest struct {
	Total        decimal.Decimal  `json:"total"`
	Count        int              `json:"count"`
	FirstDueDate installment.Date `json:"first_due_date"`
}

// CreateDraftRequest starts an edit session. An empty PolicyID starts a
// schedule for a new policy.
type CreateDraftRequest struct {
	PolicyID string `json:"policy_id"`
}

// EditInstallmentRequest corrects one installment. Absent fields are left
// unchanged.
type EditInstallmentRequest struct {
	DueDate *installment.Date `json:"due_date,omitempty"`
	Amount  *decimal.Decimal  `json:"amount,omitempty"`
}

// SubmitRequest is the body of a draft submission. Policy is required when
// the draft does not edit an existing policy; when it does, the non-empty
// fields of Policy replace the stored ones.
type SubmitRequest struct {
	Policy *policyapi.PolicyInput `json:"policy,omitempty"`
}

// PayRequest records a payment. A missing date means today.
type PayRequest struct {
	PaymentDate installment.Date `json:"payment_date"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// InstallmentDTO is an installment with its derived status.
type InstallmentDTO struct {
	LocalID          installment.LocalID     `json:"local_id"`
	PersistedID      installment.PersistedID `json:"persisted_id,omitempty"`
	SequenceNumber   int                     `json:"sequence_number"`
	DueDate          installment.Date        `json:"due_date"`
	Amount           decimal.Decimal         `json:"amount"`
	PaymentDate      *installment.Date       `json:"payment_date,omitempty"`
	MarkedForRemoval bool                    `json:"marked_for_removal"`
	Status           installment.Status      `json:"status"`
}

// ScheduleResponse is a schedule and its summary.
type ScheduleResponse struct {
	PolicyID     installment.PolicyID `json:"policy_id,omitempty"`
	Installments []InstallmentDTO     `json:"installments"`
	Summary      installment.Summary  `json:"summary"`
}

// PlanDTO counts what a submission of the draft would do.
type PlanDTO struct {
	Create int `json:"create"`
	Keep   int `json:"keep"`
	Delete int `json:"delete"`
}

// DraftDTO is a draft as shown to the console.
type DraftDTO struct {
	ID           draft.ID             `json:"id"`
	PolicyID     installment.PolicyID `json:"policy_id,omitempty"`
	Editing      bool                 `json:"editing"`
	Total        decimal.Decimal      `json:"total"`
	Count        int                  `json:"count"`
	FirstDueDate installment.Date     `json:"first_due_date"`
	Installments []InstallmentDTO     `json:"installments"`
	ActiveTotal  decimal.Decimal      `json:"active_total"`
	Plan         PlanDTO              `json:"plan"`
	Submitting   bool                 `json:"submitting"`
	Version      int                  `json:"version"`
	CreatedAt    string               `json:"created_at"`
	UpdatedAt    string               `json:"updated_at"`
}

// PolicyDTO is one entry of the policy list.
type PolicyDTO struct {
	ID            policyapi.ID        `json:"id"`
	Number        string              `json:"number"`
	IssuedOn      installment.Date    `json:"issued_on"`
	CoverageStart installment.Date    `json:"coverage_start"`
	CoverageEnd   installment.Date    `json:"coverage_end"`
	Value         decimal.Decimal     `json:"value"`
	ContractType  string              `json:"contract_type,omitempty"`
	Status        string              `json:"status,omitempty"`
	Summary       installment.Summary `json:"summary"`
}

// SubmitResponse reports a submission. On partial failure Error is set and
// Installments is empty.
type SubmitResponse struct {
	PolicyID     installment.PolicyID      `json:"policy_id"`
	Created      []InstallmentDTO          `json:"created"`
	Deleted      []installment.PersistedID `json:"deleted"`
	Installments []InstallmentDTO          `json:"installments"`
	Summary      *installment.Summary      `json:"summary,omitempty"`
	Error        string                    `json:"error,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toInstallmentDTOs(schedule []installment.Installment, today installment.Date) []InstallmentDTO {
	dtos := make([]InstallmentDTO, len(schedule))
	for i, inst := range schedule {
		dtos[i] = InstallmentDTO{
			LocalID:          inst.LocalID,
			PersistedID:      inst.PersistedID,
			SequenceNumber:   inst.SequenceNumber,
			DueDate:          inst.DueDate,
			Amount:           inst.Amount,
			PaymentDate:      inst.PaymentDate,
			MarkedForRemoval: inst.MarkedForRemoval,
			Status:           installment.DeriveStatus(inst, today),
		}
	}
	return dtos
}

func toScheduleResponse(policyID installment.PolicyID, schedule []installment.Installment, today installment.Date) ScheduleResponse {
	return ScheduleResponse{
		PolicyID:     policyID,
		Installments: toInstallmentDTOs(schedule, today),
		Summary:      installment.Summarize(schedule, today),
	}
}

func toDraftDTO(d draft.Draft, today installment.Date) DraftDTO {
	plan := d.Plan()
	return DraftDTO{
		ID:           d.ID,
		PolicyID:     d.PolicyID,
		Editing:      d.Editing,
		Total:        d.Total,
		Count:        d.Count,
		FirstDueDate: d.FirstDueDate,
		Installments: toInstallmentDTOs(d.Installments, today),
		ActiveTotal:  installment.Total(d.Installments),
		Plan: PlanDTO{
			Create: len(plan.Create),
			Keep:   len(plan.Keep),
			Delete: len(plan.Delete),
		},
		Submitting: d.Submitting,
		Version:    d.Version,
		CreatedAt:  d.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  d.UpdatedAt.Format(time.RFC3339),
	}
}

func toPolicyDTO(p policyapi.Policy, today installment.Date) (PolicyDTO, error) {
	schedule, err := p.Schedule()
	if err != nil {
		return PolicyDTO{}, err
	}
	return PolicyDTO{
		ID:            p.ID,
		Number:        p.Number,
		IssuedOn:      p.IssuedOn,
		CoverageStart: p.CoverageStart,
		CoverageEnd:   p.CoverageEnd,
		Value:         p.Value,
		ContractType:  p.ContractType,
		Status:        p.Status,
		Summary:       installment.Summarize(schedule, today),
	}, nil
}

func toSubmitResponse(res *submit.Result, today installment.Date) SubmitResponse {
	resp := SubmitResponse{
		PolicyID:     res.PolicyID,
		Created:      toInstallmentDTOs(res.Created, today),
		Deleted:      res.Deleted,
		Installments: toInstallmentDTOs(res.Schedule, today),
	}
	if resp.Deleted == nil {
		resp.Deleted = []installment.PersistedID{}
	}
	if res.Schedule != nil {
		summary := installment.Summarize(res.Schedule, today)
		resp.Summary = &summary
	}
	return resp
}
