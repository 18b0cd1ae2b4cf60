// Package store provides draft.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/policy-installments/draft"
	"github.com/warp/policy-installments/installment"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu     sync.RWMutex
	drafts map[draft.ID]draft.Draft
}

func NewMemory() *Memory {
	return &Memory{drafts: make(map[draft.ID]draft.Draft)}
}

func (m *Memory) Create(_ context.Context, d draft.Draft) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.drafts[d.ID]; ok {
		return draft.ErrDuplicate
	}
	m.drafts[d.ID] = copyDraft(d)
	return nil
}

func (m *Memory) Get(_ context.Context, id draft.ID) (draft.Draft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.drafts[id]
	if !ok {
		return draft.Draft{}, draft.ErrDraftNotFound
	}
	return copyDraft(d), nil
}

// Update is a compare-and-swap on Version.
func (m *Memory) Update(_ context.Context, d draft.Draft, prevVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.drafts[d.ID]
	if !ok {
		return draft.ErrDraftNotFound
	}
	if current.Version != prevVersion {
		return draft.ErrConcurrentModification
	}
	m.drafts[d.ID] = copyDraft(d)
	return nil
}

func (m *Memory) Delete(_ context.Context, id draft.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.drafts[id]; !ok {
		return draft.ErrDraftNotFound
	}
	delete(m.drafts, id)
	return nil
}

func (m *Memory) List(_ context.Context) ([]draft.Draft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]draft.Draft, 0, len(m.drafts))
	for _, d := range m.drafts {
		result = append(result, copyDraft(d))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

func (m *Memory) DeleteStale(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, d := range m.drafts {
		if d.UpdatedAt.Before(before) {
			delete(m.drafts, id)
			n++
		}
	}
	return n, nil
}

// copyDraft detaches the installment slice and payment dates from the caller.
func copyDraft(d draft.Draft) draft.Draft {
	if d.Installments == nil {
		return d
	}
	insts := make([]installment.Installment, len(d.Installments))
	copy(insts, d.Installments)
	for i := range insts {
		if insts[i].PaymentDate != nil {
			paid := *insts[i].PaymentDate
			insts[i].PaymentDate = &paid
		}
	}
	d.Installments = insts
	return d
}
