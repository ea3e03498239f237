package booking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/busy"
	"github.com/hackgods/clinic-booking/internal/clinic"
	"github.com/hackgods/clinic-booking/internal/invite"
	"github.com/hackgods/clinic-booking/internal/notify"
	"github.com/hackgods/clinic-booking/internal/patient"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

type memEvent struct {
	Event
	visibleAt time.Time
	processed bool
	parked    bool
	lastError string
}

// memStore implements Store and Outbox. One mutex gives the lock
// acquisition the same atomicity as the row lock in Postgres.
type memStore struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*Request
	events   []*memEvent
	sentMark int
}

func newMemStore() *memStore {
	return &memStore{requests: map[uuid.UUID]*Request{}}
}

func (m *memStore) Create(_ context.Context, r Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := r
	m.requests[r.ID] = &cp
	m.events = append(m.events, &memEvent{Event: Event{ID: uuid.New(), BookingRequestID: r.ID}, visibleAt: r.CreatedAt})
	return nil
}

func (m *memStore) Get(_ context.Context, id uuid.UUID) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) AcquireNotificationLock(_ context.Context, id uuid.UUID, now, staleBefore time.Time) (*Request, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, false, ErrRequestNotFound
	}
	if !lockable(r, staleBefore) {
		cp := *r
		return &cp, false, nil
	}
	r.NotificationLockAt = &now
	cp := *r
	return &cp, true, nil
}

func (m *memStore) ReleaseNotificationLock(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.requests[id]
	if r != nil && r.Status == StatusPending && r.NotificationSentAt == nil {
		r.NotificationLockAt = nil
	}
	return nil
}

func (m *memStore) Reject(_ context.Context, id uuid.UUID, reason string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.requests[id]
	if r == nil || r.Status != StatusPending {
		return ErrNotPending
	}
	r.Status = StatusRejected
	r.RejectionReason = &reason
	r.UpdatedAt = now
	return nil
}

func (m *memStore) Approve(_ context.Context, id uuid.UUID, a Approval, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.requests[id]
	if r == nil || r.Status != StatusPending {
		return ErrNotPending
	}
	r.Status = StatusApproved
	r.AppointmentID = &a.AppointmentID
	r.PatientID = &a.PatientID
	r.PractitionerID = a.PractitionerID
	r.IntakeInviteID = a.IntakeInviteID
	r.UpdatedAt = now
	return nil
}

func (m *memStore) MarkNotificationSent(_ context.Context, id uuid.UUID, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.requests[id]
	if r.NotificationSentAt != nil {
		return errors.New("already sent")
	}
	r.NotificationSentAt = &now
	m.sentMark++
	return nil
}

func (m *memStore) ClaimEvents(_ context.Context, limit int, now, visibleUntil time.Time) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sort.SliceStable(m.events, func(i, j int) bool { return m.events[i].visibleAt.Before(m.events[j].visibleAt) })
	var out []Event
	for _, ev := range m.events {
		if len(out) == limit {
			break
		}
		if ev.processed || ev.parked || ev.visibleAt.After(now) {
			continue
		}
		ev.Attempts++
		ev.visibleAt = visibleUntil
		out = append(out, ev.Event)
	}
	return out, nil
}

func (m *memStore) AckEvent(_ context.Context, id uuid.UUID, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.events {
		if ev.ID == id {
			ev.processed = true
		}
	}
	return nil
}

func (m *memStore) FailEvent(_ context.Context, id uuid.UUID, errMsg string, retryAt time.Time, maxAttempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.events {
		if ev.ID == id {
			ev.lastError = errMsg
			ev.visibleAt = retryAt
			ev.parked = ev.Attempts >= maxAttempts
		}
	}
	return nil
}

// deadlineStore fails status writes on a done context the way a pgx call
// does. failApprove makes that many Approve calls fail outright.
type deadlineStore struct {
	*memStore
	mu          sync.Mutex
	failApprove int
}

func (d *deadlineStore) Reject(ctx context.Context, id uuid.UUID, reason string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.memStore.Reject(ctx, id, reason, now)
}

func (d *deadlineStore) Approve(ctx context.Context, id uuid.UUID, a Approval, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	fail := d.failApprove > 0
	if fail {
		d.failApprove--
	}
	d.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return d.memStore.Approve(ctx, id, a, now)
}

func (d *deadlineStore) MarkNotificationSent(ctx context.Context, id uuid.UUID, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.memStore.MarkNotificationSent(ctx, id, now)
}

func (d *deadlineStore) ReleaseNotificationLock(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.memStore.ReleaseNotificationLock(ctx, id)
}

type fakeDirectory struct {
	practitioners []clinic.Practitioner
	settings      clinic.NotificationSettings
	failList      bool
}

func (d *fakeDirectory) ScheduleConfig(context.Context, string) (schedule.ScheduleConfig, error) {
	return schedule.ScheduleConfig{Timezone: "America/New_York"}, nil
}

func (d *fakeDirectory) PublicPractitioners(context.Context, string) ([]clinic.Practitioner, error) {
	if d.failList {
		return nil, errors.New("db down")
	}
	return d.practitioners, nil
}

func (d *fakeDirectory) NotificationSettings(context.Context, string) (clinic.NotificationSettings, error) {
	return d.settings, nil
}

type memPatients struct {
	mu       sync.Mutex
	patients []patient.Patient
}

func (m *memPatients) find(clinicID string, match func(patient.Patient) bool) []patient.Patient {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []patient.Patient
	for _, p := range m.patients {
		if p.ClinicID == clinicID && match(p) {
			out = append(out, p)
		}
	}
	return out
}

func (m *memPatients) FindByEmail(_ context.Context, clinicID, email string) ([]patient.Patient, error) {
	return m.find(clinicID, func(p patient.Patient) bool { return p.EmailNormalized == email }), nil
}

func (m *memPatients) FindByPhone(_ context.Context, clinicID, phone string) ([]patient.Patient, error) {
	return m.find(clinicID, func(p patient.Patient) bool { return p.PhoneNormalized == phone }), nil
}

func (m *memPatients) Create(_ context.Context, p patient.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients = append(m.patients, p)
	return nil
}

// fakeReserver enforces the no-overlap rule per practitioner and one
// appointment per booking request. The first hang calls block until ctx is
// done; a negative hang blocks every call.
type fakeReserver struct {
	mu       sync.Mutex
	appts    []appointment.Appointment
	invites  map[uuid.UUID]uuid.UUID
	failWith error
	hang     int
}

func (f *fakeReserver) Reserve(ctx context.Context, in appointment.ReserveInput) (*appointment.Appointment, error) {
	f.mu.Lock()
	hang := f.hang != 0
	if f.hang > 0 {
		f.hang--
	}
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	for _, a := range f.appts {
		if in.BookingRequestID != nil && a.BookingRequestID != nil && *a.BookingRequestID == *in.BookingRequestID {
			return nil, appointment.ErrAlreadyReserved
		}
		if a.PractitionerID == in.PractitionerID && a.Start.Before(in.End) && a.End.After(in.Start) {
			return nil, appointment.ErrConflict
		}
	}
	a := appointment.Appointment{
		ID:               uuid.New(),
		ClinicID:         in.ClinicID,
		PractitionerID:   in.PractitionerID,
		PatientID:        in.PatientID,
		Kind:             in.Kind,
		Status:           appointment.StatusScheduled,
		Start:            in.Start,
		End:              in.End,
		BookingRequestID: in.BookingRequestID,
	}
	f.appts = append(f.appts, a)
	return &a, nil
}

func (f *fakeReserver) ForBookingRequest(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.appts {
		if a.BookingRequestID != nil && *a.BookingRequestID == id {
			if inv, ok := f.invites[a.ID]; ok {
				a.IntakeInviteID = &inv
			}
			return &a, nil
		}
	}
	return nil, appointment.ErrAppointmentNotFound
}

func (f *fakeReserver) AttachInvite(_ context.Context, id, inviteID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.invites == nil {
		f.invites = map[uuid.UUID]uuid.UUID{}
	}
	f.invites[id] = inviteID
	return nil
}

func (f *fakeReserver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appts)
}

type fakeBlocks struct {
	mu     sync.Mutex
	blocks []busy.Block
	fail   bool
}

func (f *fakeBlocks) RecordBlock(_ context.Context, b busy.Block) (busy.Block, error) {
	if f.fail {
		return busy.Block{}, errors.New("write failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks = append(f.blocks, b)
	return b, nil
}

type fakeInvites struct {
	mu     sync.Mutex
	issued []invite.Issued
	fail   bool
}

func (f *fakeInvites) Issue(_ context.Context, clinicID string, appointmentID uuid.UUID, patientID *uuid.UUID) (*invite.Issued, error) {
	if f.fail {
		return nil, errors.New("invite store down")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	iss := invite.Issued{
		Invite: invite.Invite{ID: uuid.New(), ClinicID: clinicID, AppointmentID: appointmentID, PatientID: patientID},
		Token:  "tok",
		Link:   "https://book.example.com/intake/tok",
	}
	f.issued = append(f.issued, iss)
	return &iss, nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []notify.Notice
}

func (f *fakeNotifier) Dispatch(_ context.Context, n notify.Notice) []notify.Attempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, n)
	return []notify.Attempt{{Audience: notify.AudiencePatient, Outcome: notify.OutcomeError, Err: errors.New("smtp down")}}
}
