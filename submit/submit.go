/*
Package submit writes an edited schedule back to the Policy API.

STEPS (existing policy):
  1. Validate the active schedule (installment.ValidateForSubmit).
  2. Split it into an edit plan (create / keep / delete).
  3. Fetch the policy, apply the caller's policy fields on top and PUT it
     back with the installment patch list (kept entries remover=false with
     their edited date and amount, marked entries remover=true).
  4. Create new installments concurrently, bounded by Concurrency.
  5. Re-fetch the policy. The API is the source of truth for what was saved.

STEPS (new policy):
  Create the policy, then steps 4 and 5.

ORDERING:
  Created installments are reported by sequence number, never by the order
  in which the API calls completed.

PARTIAL FAILURE:
  If some creations fail, the ones that succeeded are already persisted.
  Submit returns them in Result.Created together with a *PartialError.
*/
package submit

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/policy-installments/installment"
	"github.com/warp/policy-installments/observability"
	"github.com/warp/policy-installments/policyapi"
)

var tracer = otel.Tracer("submit")

// ErrPersistedInNewPolicy is returned by SubmitNew when the schedule already
// references persisted installments.
var ErrPersistedInNewPolicy = errors.New("new policy schedule contains persisted installments")

// ErrRefreshFailed is returned when every write succeeded but the policy
// could not be re-fetched afterwards.
var ErrRefreshFailed = errors.New("refresh policy")

// PolicyAPI is the subset of the Policy API client used to submit.
type PolicyAPI interface {
	FetchPolicy(ctx context.Context, id installment.PolicyID) (*policyapi.Policy, error)
	CreatePolicy(ctx context.Context, in policyapi.PolicyInput) (*policyapi.Policy, error)
	UpdatePolicy(ctx context.Context, id installment.PolicyID, in policyapi.PolicyInput) (*policyapi.Policy, error)
	CreateInstallment(ctx context.Context, policyID installment.PolicyID, in policyapi.NewInstallment) (*policyapi.Installment, error)
}

// Result reports what a submission did.
type Result struct {
	PolicyID installment.PolicyID
	Created  []installment.Installment // ordered by sequence number
	Deleted  []installment.PersistedID

	// Policy and Schedule are the state re-fetched after the writes. Nil
	// after a failure.
	Policy   *policyapi.Policy
	Schedule []installment.Installment
}

// PartialError is returned when some installments were created and others
// were not.
type PartialError struct {
	Created int
	Failed  int
	Err     error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("created %d of %d installments: %v", e.Created, e.Created+e.Failed, e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

// Submitter submits schedules.
type Submitter struct {
	api         PolicyAPI
	concurrency int
	metrics     *observability.Metrics
	logger      *zap.Logger
}

// NewSubmitter creates a Submitter creating at most concurrency
// installments at a time. metrics may be nil.
func NewSubmitter(api PolicyAPI, concurrency int, metrics *observability.Metrics, logger *zap.Logger) *Submitter {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{api: api, concurrency: concurrency, metrics: metrics, logger: logger}
}

// Submit applies schedule to an existing policy. Non-empty fields of fields
// replace the stored policy's; fields may be nil.
func (s *Submitter) Submit(ctx context.Context, policyID installment.PolicyID, fields *policyapi.PolicyInput, schedule []installment.Installment) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Submitter.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("policy.id", string(policyID)))

	if err := installment.ValidateForSubmit(schedule); err != nil {
		s.record("rejected")
		return nil, err
	}
	plan := installment.Plan(schedule)
	span.SetAttributes(
		attribute.Int("plan.create", len(plan.Create)),
		attribute.Int("plan.keep", len(plan.Keep)),
		attribute.Int("plan.delete", len(plan.Delete)),
	)

	result := &Result{PolicyID: policyID}

	if err := s.updatePolicy(ctx, policyID, fields, plan); err != nil {
		s.record("failed")
		return result, fmt.Errorf("update policy: %w", err)
	}
	for _, inst := range plan.Delete {
		result.Deleted = append(result.Deleted, inst.PersistedID)
	}

	return s.finish(ctx, result, plan.Create)
}

// SubmitNew creates a policy and its installments.
func (s *Submitter) SubmitNew(ctx context.Context, in policyapi.PolicyInput, schedule []installment.Installment) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Submitter.SubmitNew")
	defer span.End()

	if err := installment.ValidateForSubmit(schedule); err != nil {
		s.record("rejected")
		return nil, err
	}
	plan := installment.Plan(schedule)
	if len(plan.Keep) > 0 || len(plan.Delete) > 0 {
		s.record("rejected")
		return nil, ErrPersistedInNewPolicy
	}

	in.Installments = nil
	policy, err := s.api.CreatePolicy(ctx, in)
	if err != nil {
		s.record("failed")
		return nil, fmt.Errorf("create policy: %w", err)
	}
	span.SetAttributes(attribute.String("policy.id", string(policy.ID)))

	return s.finish(ctx, &Result{PolicyID: installment.PolicyID(policy.ID)}, plan.Create)
}

// finish creates the new installments and re-fetches the policy.
func (s *Submitter) finish(ctx context.Context, result *Result, create []installment.Installment) (*Result, error) {
	created, err := s.createAll(ctx, result.PolicyID, create)
	result.Created = created
	if err != nil {
		if len(created) > 0 {
			s.record("partial")
			err = &PartialError{Created: len(created), Failed: len(create) - len(created), Err: err}
		} else {
			s.record("failed")
		}
		s.logger.Error("submission incomplete",
			zap.String("policy_id", string(result.PolicyID)),
			zap.Int("created", len(created)),
			zap.Int("planned", len(create)),
			zap.Error(err),
		)
		return result, err
	}

	policy, err := s.api.FetchPolicy(ctx, result.PolicyID)
	if err != nil {
		// Writes succeeded; only the refresh failed.
		s.record("success")
		return result, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	schedule, err := policy.Schedule()
	if err != nil {
		s.record("success")
		return result, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	result.Policy = policy
	result.Schedule = schedule

	s.record("success")
	s.logger.Info("schedule submitted",
		zap.String("policy_id", string(result.PolicyID)),
		zap.Int("created", len(result.Created)),
		zap.Int("deleted", len(result.Deleted)),
	)
	return result, nil
}

// updatePolicy PUTs the policy back with every persisted installment
// listed, marked ones flagged for removal.
func (s *Submitter) updatePolicy(ctx context.Context, policyID installment.PolicyID, fields *policyapi.PolicyInput, plan installment.EditPlan) error {
	policy, err := s.api.FetchPolicy(ctx, policyID)
	if err != nil {
		return err
	}

	in := policyapi.InputFrom(policy)
	if fields != nil {
		in = in.Overlay(*fields)
	}
	in.Installments = make([]policyapi.InstallmentPatch, 0, len(plan.Keep)+len(plan.Delete))
	for _, inst := range plan.Keep {
		in.Installments = append(in.Installments, patch(inst, false))
	}
	for _, inst := range plan.Delete {
		in.Installments = append(in.Installments, patch(inst, true))
	}

	_, err = s.api.UpdatePolicy(ctx, policyID, in)
	return err
}

func patch(inst installment.Installment, remove bool) policyapi.InstallmentPatch {
	return policyapi.InstallmentPatch{
		ID:      policyapi.ID(inst.PersistedID),
		DueDate: inst.DueDate,
		Amount:  policyapi.Amount(inst.Amount),
		Remove:  remove,
	}
}

// createAll creates installments concurrently. The returned slice holds the
// successfully created ones in the order of create (sequence order).
func (s *Submitter) createAll(ctx context.Context, policyID installment.PolicyID, create []installment.Installment) ([]installment.Installment, error) {
	slots := make([]*installment.Installment, len(create))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, local := range create {
		i, local := i, local
		g.Go(func() error {
			saved, err := s.api.CreateInstallment(gCtx, policyID, policyapi.NewInstallmentFrom(local))
			if err != nil {
				return fmt.Errorf("installment #%d: %w", local.SequenceNumber, err)
			}
			inst, err := saved.ToDomain()
			if err != nil {
				return fmt.Errorf("installment #%d: %w", local.SequenceNumber, err)
			}
			if inst.SequenceNumber == 0 {
				inst.SequenceNumber = local.SequenceNumber
			}
			if inst.DueDate.IsZero() {
				inst.DueDate = local.DueDate
			}
			slots[i] = &inst
			return nil
		})
	}
	err := g.Wait()

	created := make([]installment.Installment, 0, len(create))
	for _, inst := range slots {
		if inst != nil {
			created = append(created, *inst)
		}
	}
	return created, err
}

func (s *Submitter) record(outcome string) {
	if s.metrics != nil {
		s.metrics.IncrSubmission(outcome)
	}
}
