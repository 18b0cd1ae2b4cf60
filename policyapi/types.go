package policyapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/warp/policy-installments/installment"
)

// =============================================================================
// WIRE TYPES - JSON contract of the Policy API
// =============================================================================

// ID is a Policy API identifier. The API sends numbers; strings are accepted
// too so the client does not care which.
type ID string

func (id ID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	// Only the canonical decimal form is a valid JSON number; "+5" or "007"
	// parse as integers but must stay strings.
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", b, err)
	}
	*id = ID(n.String())
	return nil
}

// Installment is an installment as returned by the API.
type Installment struct {
	ID            ID                `json:"id,omitempty"`
	LegacyID      ID                `json:"idParcela,omitempty"`
	Number        int               `json:"numeroParcela"`
	DueDate       installment.Date  `json:"dataVencimento"`
	Amount        decimal.Decimal   `json:"valorParcela"`
	PaymentStatus string            `json:"statusPagamento,omitempty"`
	PaymentDate   *installment.Date `json:"dataPagamento,omitempty"`
}

// Key is the installment id; older API versions only send idParcela.
func (i Installment) Key() ID {
	if i.ID != "" {
		return i.ID
	}
	return i.LegacyID
}

// ToDomain converts a persisted installment into the domain type.
func (i Installment) ToDomain() (installment.Installment, error) {
	key := i.Key()
	if key == "" {
		return installment.Installment{}, fmt.Errorf("%w: installment %d has no id", ErrMalformedResponse, i.Number)
	}
	pid := installment.PersistedID(key)
	inst := installment.Installment{
		LocalID:        installment.LocalIDFor(pid),
		SequenceNumber: i.Number,
		DueDate:        i.DueDate,
		Amount:         i.Amount,
		PersistedID:    pid,
	}
	if i.PaymentDate != nil && !i.PaymentDate.IsZero() {
		paid := *i.PaymentDate
		inst.PaymentDate = &paid
	}
	return inst, nil
}

// Policy is a policy as returned by the API.
type Policy struct {
	ID                ID               `json:"idApolice"`
	Number            string           `json:"numeroApolice"`
	IssuedOn          installment.Date `json:"dataEmissao"`
	CoverageStart     installment.Date `json:"vigenciaInicio"`
	CoverageEnd       installment.Date `json:"vigenciaFim"`
	Value             decimal.Decimal  `json:"valor"`
	CommissionPercent decimal.Decimal  `json:"comissaoPercentual"`
	ContractType      string           `json:"tipoContrato"`
	BrokerClientID    ID               `json:"idCorretorCliente"`
	ProductID         ID               `json:"idProduto"`
	InsurerID         ID               `json:"idSeguradora"`
	Status            string           `json:"statusAtual,omitempty"`
	Installments      []Installment    `json:"parcelas,omitempty"`
}

// Schedule converts the policy's installments into the domain type.
func (p *Policy) Schedule() ([]installment.Installment, error) {
	out := make([]installment.Installment, 0, len(p.Installments))
	for _, wire := range p.Installments {
		inst, err := wire.ToDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

// PolicyInput is the body of create and update calls.
type PolicyInput struct {
	Number            string             `json:"numeroApolice"`
	IssuedOn          installment.Date   `json:"dataEmissao"`
	CoverageStart     installment.Date   `json:"vigenciaInicio"`
	CoverageEnd       installment.Date   `json:"vigenciaFim"`
	Value             json.Number        `json:"valor"`
	CommissionPercent json.Number        `json:"comissaoPercentual"`
	ContractType      string             `json:"tipoContrato"`
	BrokerClientID    ID                 `json:"idCorretorCliente"`
	ProductID         ID                 `json:"idProduto"`
	InsurerID         ID                 `json:"idSeguradora"`
	Coverages         []json.RawMessage  `json:"coberturas"`
	Beneficiaries     []json.RawMessage  `json:"beneficiarios"`
	Installments      []InstallmentPatch `json:"parcelas,omitempty"`
}

// InputFrom copies the editable fields of p, keeping coverages and
// beneficiaries empty as the console never edits them.
func InputFrom(p *Policy) PolicyInput {
	return PolicyInput{
		Number:            p.Number,
		IssuedOn:          p.IssuedOn,
		CoverageStart:     p.CoverageStart,
		CoverageEnd:       p.CoverageEnd,
		Value:             Amount(p.Value),
		CommissionPercent: json.Number(p.CommissionPercent.String()),
		ContractType:      p.ContractType,
		BrokerClientID:    p.BrokerClientID,
		ProductID:         p.ProductID,
		InsurerID:         p.InsurerID,
		Coverages:         []json.RawMessage{},
		Beneficiaries:     []json.RawMessage{},
	}
}

// Overlay returns in with every non-empty field of patch applied on top.
// patch.Installments is ignored: the schedule comes from the draft.
func (in PolicyInput) Overlay(patch PolicyInput) PolicyInput {
	out := in
	if patch.Number != "" {
		out.Number = patch.Number
	}
	if !patch.IssuedOn.IsZero() {
		out.IssuedOn = patch.IssuedOn
	}
	if !patch.CoverageStart.IsZero() {
		out.CoverageStart = patch.CoverageStart
	}
	if !patch.CoverageEnd.IsZero() {
		out.CoverageEnd = patch.CoverageEnd
	}
	if patch.Value != "" {
		out.Value = patch.Value
	}
	if patch.CommissionPercent != "" {
		out.CommissionPercent = patch.CommissionPercent
	}
	if patch.ContractType != "" {
		out.ContractType = patch.ContractType
	}
	if patch.BrokerClientID != "" {
		out.BrokerClientID = patch.BrokerClientID
	}
	if patch.ProductID != "" {
		out.ProductID = patch.ProductID
	}
	if patch.InsurerID != "" {
		out.InsurerID = patch.InsurerID
	}
	if patch.Coverages != nil {
		out.Coverages = patch.Coverages
	}
	if patch.Beneficiaries != nil {
		out.Beneficiaries = patch.Beneficiaries
	}
	return out
}

// InstallmentPatch is one entry of the parcelas list of an update. Entries
// with Remove set are deleted by the API; ID is null for entries the API
// does not know yet.
type InstallmentPatch struct {
	ID      ID               `json:"idParcela"`
	DueDate installment.Date `json:"dataVencimento"`
	Amount  json.Number      `json:"valorParcela"`
	Remove  bool             `json:"remover"`
}

// NewInstallment is the body of CreateInstallment.
type NewInstallment struct {
	Number  int              `json:"numeroParcela"`
	DueDate installment.Date `json:"dataVencimento"`
	Amount  json.Number      `json:"valorParcela"`
}

// NewInstallmentFrom converts a local installment into a create body.
func NewInstallmentFrom(inst installment.Installment) NewInstallment {
	return NewInstallment{
		Number:  inst.SequenceNumber,
		DueDate: inst.DueDate,
		Amount:  Amount(inst.Amount),
	}
}

// Payment is the body of RecordPayment.
type Payment struct {
	PaymentDate installment.Date `json:"dataPagamento"`
}

// Amount renders money as a JSON number with two decimals.
func Amount(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(installment.CentScale))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"senha"`
}

type loginResponse struct {
	UserID       ID     `json:"userId"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}
