package plan

import (
	"context"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/id"
)

type Store interface {
	CreatePlan(ctx context.Context, p *Plan) error
	GetPlan(ctx context.Context, planID id.PaymentPlanID) (*Plan, error)
	UpdatePlan(ctx context.Context, p *Plan, expectedVersion int64) error
	ListPlans(ctx context.Context, opts ListOpts) ([]*Plan, error)
}

type ListOpts struct {
	PatientID string
	Status    Status
	Limit     int
	Offset    int
}

func (o ListOpts) Matches(p *Plan) bool {
	if o.PatientID != "" && p.PatientID != o.PatientID {
		return false
	}
	if o.Status != "" && p.Status != o.Status {
		return false
	}
	return true
}
