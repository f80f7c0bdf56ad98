// Package identity issues the human-presentable patient identifiers:
// <prefix><year><6-digit sequence>, with the sequence restarting at 1
// each hospital-local calendar year.
package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/medanta-hms/opd-queue-core/internal/booking"
	"github.com/medanta-hms/opd-queue-core/internal/calendar"
)

// SequenceRepository increments and returns the year counter in one
// atomic statement. Two concurrent callers must never see the same value.
type SequenceRepository interface {
	NextSequence(ctx context.Context, year int) (int64, error)
}

// PatientStore persists the patient record once an identifier is issued.
type PatientStore interface {
	CreatePatient(ctx context.Context, code, name string, phone *string) (*booking.Patient, error)
}

type Issuer struct {
	seq    SequenceRepository
	prefix string
	now    func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

func NewIssuer(seq SequenceRepository, prefix string, opts ...Option) *Issuer {
	i := &Issuer{
		seq:    seq,
		prefix: prefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// NextPatientID returns the next identifier for the current hospital-local
// year, e.g. MH2026000123.
func (i *Issuer) NextPatientID(ctx context.Context) (string, error) {
	year := i.now().In(calendar.HospitalZone).Year()
	n, err := i.seq.NextSequence(ctx, year)
	if err != nil {
		return "", fmt.Errorf("next patient sequence: %w", err)
	}
	return fmt.Sprintf("%s%d%06d", i.prefix, year, n), nil
}

// Registrar couples identifier issuance with patient creation.
type Registrar struct {
	issuer *Issuer
	store  PatientStore
}

func NewRegistrar(issuer *Issuer, store PatientStore) *Registrar {
	return &Registrar{issuer: issuer, store: store}
}

// Register issues an identifier and persists the patient. If the insert
// fails after issuance the sequence number stays consumed with no patient
// attached; a gap in the printed IDs is tolerated, a duplicate is not.
func (r *Registrar) Register(ctx context.Context, name string, phone *string) (*booking.Patient, error) {
	code, err := r.issuer.NextPatientID(ctx)
	if err != nil {
		return nil, err
	}
	p, err := r.store.CreatePatient(ctx, code, name, phone)
	if err != nil {
		return nil, fmt.Errorf("create patient %s: %w", code, err)
	}
	return p, nil
}
