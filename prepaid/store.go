package prepaid

import (
	"context"
	"time"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/id"
)

type Store interface {
	CreatePackage(ctx context.Context, p *Package) error
	GetPackage(ctx context.Context, pkgID id.PackageID) (*Package, error)
	UpdatePackage(ctx context.Context, p *Package, expectedVersion int64) error
	ListPackages(ctx context.Context, opts ListOpts) ([]*Package, error)
}

type ListOpts struct {
	PatientID string
	Status    Status
	Type      Type
	// ExpiresBefore keeps packages whose expiry date is strictly before the given time.
	ExpiresBefore *time.Time
	Limit         int
	Offset        int
}

func (o ListOpts) Matches(p *Package) bool {
	if o.PatientID != "" && p.PatientID != o.PatientID {
		return false
	}
	if o.Status != "" && p.Status != o.Status {
		return false
	}
	if o.Type != "" && p.Type != o.Type {
		return false
	}
	if o.ExpiresBefore != nil && !p.ExpiryDate.Before(*o.ExpiresBefore) {
		return false
	}
	return true
}
