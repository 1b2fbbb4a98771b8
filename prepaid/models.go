// Package prepaid models bundles of therapy sessions bought up front and
// depleted one session at a time.
package prepaid

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/id"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

type Type string

const (
	TypeSingleSession Type = "single_session"
	TypePackage5      Type = "package_5"
	TypePackage10     Type = "package_10"
	TypePackage20     Type = "package_20"
	TypeMonthly       Type = "monthly"
)

type catalogEntry struct {
	sessions     int
	validityDays int
}

var catalog = map[Type]catalogEntry{
	TypeSingleSession: {sessions: 1, validityDays: 30},
	TypePackage5:      {sessions: 5, validityDays: 60},
	TypePackage10:     {sessions: 10, validityDays: 90},
	TypePackage20:     {sessions: 20, validityDays: 180},
	TypeMonthly:       {sessions: 0, validityDays: 30},
}

// Types returns every known package type in catalog order.
func Types() []Type {
	return []Type{TypeSingleSession, TypePackage5, TypePackage10, TypePackage20, TypeMonthly}
}

func (t Type) Valid() bool {
	_, ok := catalog[t]
	return ok
}

// Sessions returns the session count for t. Monthly memberships are not
// session based and return 0.
func (t Type) Sessions() int { return catalog[t].sessions }

// ValidityDays returns how long a package of type t stays usable.
func (t Type) ValidityDays() int { return catalog[t].validityDays }

// SessionBased reports whether t carries a finite session count.
func (t Type) SessionBased() bool { return t.Sessions() > 0 }

type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
	StatusSuspended Status = "suspended"
)

type Package struct {
	types.Entity
	ID            id.PackageID      `json:"id"`
	PatientID     string            `json:"patient_id"`
	TransactionID id.TransactionID  `json:"transaction_id"`
	Type          Type              `json:"type"`
	TotalSessions int               `json:"total_sessions"`
	UsedSessions  int               `json:"used_sessions"`
	Price         types.Money       `json:"price"`
	PurchaseDate  time.Time         `json:"purchase_date"`
	ExpiryDate    time.Time         `json:"expiry_date"`
	Status        Status            `json:"status"`
	LastUsedAt    *time.Time        `json:"last_used_at,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// New returns an active package purchased at purchasedAt. Session count and
// expiry come from the type catalog.
func New(patientID string, txnID id.TransactionID, typ Type, price types.Money, purchasedAt time.Time) (*Package, error) {
	switch {
	case strings.TrimSpace(patientID) == "":
		return nil, types.ValidationError{Field: "patient_id", Message: "patient is required"}
	case txnID.IsNil():
		return nil, types.ValidationError{Field: "transaction_id", Message: "purchase transaction is required"}
	case !typ.Valid():
		return nil, types.ValidationError{Field: "type", Message: fmt.Sprintf("unknown package type %q", typ)}
	case !price.IsPositive():
		return nil, types.ValidationError{Field: "price", Message: "price must be positive"}
	case purchasedAt.IsZero():
		return nil, types.ValidationError{Field: "purchase_date", Message: "purchase date is required"}
	}

	purchased := purchasedAt.UTC()
	return &Package{
		Entity:        types.NewEntity(),
		ID:            id.NewPackageID(),
		PatientID:     patientID,
		TransactionID: txnID,
		Type:          typ,
		TotalSessions: typ.Sessions(),
		Price:         price,
		PurchaseDate:  purchased,
		ExpiryDate:    purchased.AddDate(0, 0, typ.ValidityDays()),
		Status:        StatusActive,
	}, nil
}

// RemainingSessions returns the sessions still available.
func (p *Package) RemainingSessions() int {
	return p.TotalSessions - p.UsedSessions
}

// IsExpired reports whether now is past the expiry date.
func (p *Package) IsExpired(now time.Time) bool {
	return now.After(p.ExpiryDate)
}

// SessionValue returns price / total sessions, rounded half-up. It is zero for
// packages that are not session based.
func (p *Package) SessionValue() types.Money {
	if p.TotalSessions == 0 {
		return types.Zero(p.Price.Currency)
	}
	v, _ := p.Price.Divide(int64(p.TotalSessions))
	return v
}

// RemainingValue returns the monetary value of unused sessions.
func (p *Package) RemainingValue() types.Money {
	if p.TotalSessions == 0 {
		return types.Zero(p.Price.Currency)
	}
	return p.SessionValue().Multiply(int64(p.RemainingSessions()))
}

// ──────────────────────────────────────────────────
// State transitions
// ──────────────────────────────────────────────────

// ConsumeSession uses one session. Consuming the last session expires the
// package.
func (p *Package) ConsumeSession(now time.Time) error {
	if p.Status != StatusActive {
		return types.NewTransitionError("package", p.Status, StatusActive)
	}
	if p.IsExpired(now) {
		return types.ErrPackageExpired
	}
	if !p.Type.SessionBased() {
		return types.ValidationError{Field: "type", Message: "monthly memberships do not track sessions"}
	}
	if p.RemainingSessions() <= 0 {
		return types.ErrPackageDepleted
	}

	used := now.UTC()
	p.UsedSessions++
	p.LastUsedAt = &used
	if p.RemainingSessions() == 0 {
		p.Status = StatusExpired
	}
	p.Touch()
	return nil
}

// Suspend freezes an active package.
func (p *Package) Suspend() error {
	if p.Status != StatusActive {
		return types.NewTransitionError("package", p.Status, StatusSuspended)
	}
	p.Status = StatusSuspended
	p.Touch()
	return nil
}

// Reactivate resumes a suspended package unless it is already past expiry.
func (p *Package) Reactivate(now time.Time) error {
	if p.Status != StatusSuspended {
		return types.NewTransitionError("package", p.Status, StatusActive)
	}
	if p.IsExpired(now) {
		return types.ErrPackageExpired
	}
	p.Status = StatusActive
	p.Touch()
	return nil
}

// Cancel voids an active package.
func (p *Package) Cancel() error {
	if p.Status != StatusActive {
		return types.NewTransitionError("package", p.Status, StatusCancelled)
	}
	p.Status = StatusCancelled
	p.Touch()
	return nil
}

// Expire retires an active or suspended package that is past its expiry date.
func (p *Package) Expire(now time.Time) error {
	if p.Status != StatusActive && p.Status != StatusSuspended {
		return types.NewTransitionError("package", p.Status, StatusExpired)
	}
	if !p.IsExpired(now) {
		return types.ValidationError{Field: "expiry_date", Message: "package has not reached its expiry date"}
	}
	p.Status = StatusExpired
	p.Touch()
	return nil
}

// Clone returns a deep copy.
func (p *Package) Clone() *Package {
	c := *p
	if p.LastUsedAt != nil {
		v := *p.LastUsedAt
		c.LastUsedAt = &v
	}
	c.Metadata = maps.Clone(p.Metadata)
	return &c
}
