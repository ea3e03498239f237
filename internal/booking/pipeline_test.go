package booking

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/auth"
	"github.com/hackgods/clinic-booking/internal/busy"
	"github.com/hackgods/clinic-booking/internal/clinic"
	"github.com/hackgods/clinic-booking/internal/patient"
)

var now = time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)

type harness struct {
	store    *memStore
	writes   *deadlineStore
	dir      *fakeDirectory
	patients *memPatients
	reserver *fakeReserver
	blocks   *fakeBlocks
	invites  *fakeInvites
	notifier *fakeNotifier
	intake   *Intake
	pipeline *Pipeline
}

func newHarness() *harness {
	h := &harness{
		store: newMemStore(),
		dir: &fakeDirectory{
			practitioners: []clinic.Practitioner{{ID: "p1", Name: "Dr. Ada", Email: "ada@example.com", Public: true}},
			settings:      clinic.NotificationSettings{ClinicName: "North", RecipientPolicy: "both", InboxEmail: "inbox@example.com"},
		},
		patients: &memPatients{},
		reserver: &fakeReserver{},
		blocks:   &fakeBlocks{},
		invites:  &fakeInvites{},
		notifier: &fakeNotifier{},
	}
	h.writes = &deadlineStore{memStore: h.store}
	h.intake = NewIntake(h.store, "US", zerolog.Nop())
	h.intake.now = func() time.Time { return now }
	h.pipeline = NewPipeline(PipelineDeps{
		Store:    h.writes,
		Clinics:  h.dir,
		Patients: patient.NewResolver(h.patients, "US", zerolog.Nop()),
		Reserver: h.reserver,
		Blocks:   h.blocks,
		Invites:  h.invites,
		Notifier: h.notifier,
		MinLead:  30 * time.Minute,
	}, zerolog.Nop()).WithClock(func() time.Time { return now })
	return h
}

var anon = auth.Caller{UID: "anon-1", Anonymous: true}

func submission(start time.Time, email, dob string) Submission {
	return Submission{
		ClinicID:       "c1",
		PractitionerID: "p1",
		Start:          start.Format(time.RFC3339),
		End:            start.Add(30 * time.Minute).Format(time.RFC3339),
		Patient: patient.Snapshot{
			FirstName:   "Jane",
			LastName:    "Doe",
			DateOfBirth: dob,
			Email:       email,
		},
		AppointmentLengthMinutes: 30,
	}
}

func (h *harness) submit(t *testing.T, s Submission) uuid.UUID {
	t.Helper()
	req, err := h.intake.Submit(context.Background(), anon, s)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return req.ID
}

func (h *harness) get(t *testing.T, id uuid.UUID) *Request {
	t.Helper()
	r, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return r
}

func TestHandle_ApprovesAndRunsSideEffects(t *testing.T) {
	h := newHarness()
	id := h.submit(t, submission(now.Add(24*time.Hour), "jane@example.com", "1990-01-01"))

	if err := h.pipeline.Handle(context.Background(), id); err != nil {
		t.Fatalf("handle: %v", err)
	}

	r := h.get(t, id)
	if r.Status != StatusApproved || r.AppointmentID == nil || r.PatientID == nil || r.IntakeInviteID == nil {
		t.Fatalf("unexpected request %+v", r)
	}
	if r.NotificationLockAt == nil || r.NotificationSentAt == nil {
		t.Error("lock and sent markers must both be set")
	}
	if h.reserver.count() != 1 || len(h.invites.issued) != 1 || len(h.notifier.notices) != 1 {
		t.Errorf("appointments=%d invites=%d notices=%d", h.reserver.count(), len(h.invites.issued), len(h.notifier.notices))
	}
	if *h.reserver.appts[0].BookingRequestID != id {
		t.Error("appointment must link back to its booking request")
	}
	if h.reserver.invites[*r.AppointmentID] != *r.IntakeInviteID {
		t.Error("invite must be linked to the appointment")
	}

	if len(h.blocks.blocks) != 1 {
		t.Fatalf("expected one mirror block, got %d", len(h.blocks.blocks))
	}
	b := h.blocks.blocks[0]
	if b.Scope != busy.ScopeClinic || b.Kind != busy.KindPublicAvailability || !b.Interval.Start.Equal(now.Add(24*time.Hour)) {
		t.Errorf("unexpected mirror block %+v", b)
	}

	n := h.notifier.notices[0]
	if n.IntakeLink == "" || n.PractitionerEmail != "ada@example.com" || n.Policy != "both" || n.Location == nil {
		t.Errorf("unexpected notice %+v", n)
	}
}

func TestHandle_IdempotentOnRedelivery(t *testing.T) {
	h := newHarness()
	id := h.submit(t, submission(now.Add(24*time.Hour), "jane@example.com", "1990-01-01"))

	for i := 0; i < 3; i++ {
		if err := h.pipeline.Handle(context.Background(), id); err != nil {
			t.Fatalf("handle #%d: %v", i, err)
		}
	}
	if h.reserver.count() != 1 || len(h.invites.issued) != 1 || len(h.notifier.notices) != 1 || h.store.sentMark != 1 {
		t.Errorf("appointments=%d invites=%d notices=%d sent=%d",
			h.reserver.count(), len(h.invites.issued), len(h.notifier.notices), h.store.sentMark)
	}
}

func TestHandle_ConcurrentDuplicateInvocations(t *testing.T) {
	h := newHarness()
	id := h.submit(t, submission(now.Add(24*time.Hour), "jane@example.com", "1990-01-01"))

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.pipeline.Handle(context.Background(), id)
		}()
	}
	wg.Wait()

	if h.reserver.count() != 1 || len(h.invites.issued) != 1 || len(h.notifier.notices) != 1 {
		t.Errorf("appointments=%d invites=%d notices=%d", h.reserver.count(), len(h.invites.issued), len(h.notifier.notices))
	}
}

func TestHandle_RejectsInsideCutoff(t *testing.T) {
	h := newHarness()
	id := h.submit(t, submission(now.Add(10*time.Minute), "jane@example.com", "1990-01-01"))

	if err := h.pipeline.Handle(context.Background(), id); err != nil {
		t.Fatalf("validation rejections do not return errors: %v", err)
	}
	r := h.get(t, id)
	if r.Status != StatusRejected || r.RejectionReason == nil || !strings.Contains(*r.RejectionReason, "30 minutes") {
		t.Fatalf("expected 30-minute cutoff rejection, got %+v", r)
	}
	if r.NotificationSentAt != nil {
		t.Error("rejected requests are not marked sent")
	}
	if h.reserver.count() != 0 || len(h.notifier.notices) != 0 {
		t.Error("rejected request must have no side effects")
	}
}

func TestHandle_ValidationRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Request)
		want   string
	}{
		{"unparseable start", func(r *Request) { r.RequestedStart = "tomorrow" }, "start time"},
		{"end before start", func(r *Request) { r.RequestedEnd = r.RequestedStart }, "end must be after start"},
		{"no practitioner", func(r *Request) { r.PractitionerID = "" }, "practitioner is required"},
		{"private practitioner", func(r *Request) { r.PractitionerID = "p9" }, "not available"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			id := h.submit(t, submission(now.Add(2*time.Hour), "jane@example.com", "1990-01-01"))
			tc.mutate(h.store.requests[id])

			if err := h.pipeline.Handle(context.Background(), id); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			r := h.get(t, id)
			if r.Status != StatusRejected || !strings.Contains(*r.RejectionReason, tc.want) {
				t.Errorf("got status=%s reason=%v", r.Status, r.RejectionReason)
			}
		})
	}
}

func TestHandle_ReservationFailureRejectsAndPropagates(t *testing.T) {
	h := newHarness()
	first := h.submit(t, submission(now.Add(3*time.Hour), "a@example.com", "1990-01-01"))
	second := h.submit(t, submission(now.Add(3*time.Hour), "b@example.com", "1985-01-01"))

	if err := h.pipeline.Handle(context.Background(), first); err != nil {
		t.Fatal(err)
	}
	err := h.pipeline.Handle(context.Background(), second)
	if !errors.Is(err, appointment.ErrConflict) {
		t.Fatalf("expected conflict to propagate, got %v", err)
	}
	r := h.get(t, second)
	if r.Status != StatusRejected || *r.RejectionReason != appointment.ErrConflict.Error() {
		t.Errorf("unexpected request %+v", r)
	}
	if len(h.notifier.notices) != 1 {
		t.Errorf("only the approved request notifies, got %d", len(h.notifier.notices))
	}
}

func TestHandle_TransientFailureLeavesPendingForRetry(t *testing.T) {
	h := newHarness()
	h.dir.failList = true
	id := h.submit(t, submission(now.Add(3*time.Hour), "a@example.com", "1990-01-01"))

	if err := h.pipeline.Handle(context.Background(), id); err == nil {
		t.Fatal("expected error")
	}
	r := h.get(t, id)
	if r.Status != StatusPending || r.NotificationLockAt != nil {
		t.Fatalf("expected pending with the lock released, got %+v", r)
	}

	h.dir.failList = false
	if err := h.pipeline.Handle(context.Background(), id); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if r := h.get(t, id); r.Status != StatusApproved || r.NotificationSentAt == nil {
		t.Errorf("retry should approve, got %+v", r)
	}
}

func TestHandle_LiveLockIsReportedInProgress(t *testing.T) {
	h := newHarness()
	id := h.submit(t, submission(now.Add(3*time.Hour), "a@example.com", "1990-01-01"))
	held := now.Add(-time.Minute)
	h.store.requests[id].NotificationLockAt = &held

	if err := h.pipeline.Handle(context.Background(), id); !errors.Is(err, ErrInProgress) {
		t.Fatalf("expected ErrInProgress, got %v", err)
	}
	if h.reserver.count() != 0 || h.get(t, id).Status != StatusPending {
		t.Error("a live lock must not be taken over")
	}
}

func TestHandle_StaleLockResumesExistingAppointment(t *testing.T) {
	h := newHarness()
	id := h.submit(t, submission(now.Add(3*time.Hour), "a@example.com", "1990-01-01"))

	// an earlier delivery reserved the slot and died before approving
	patientID := uuid.New()
	appt, err := h.reserver.Reserve(context.Background(), appointment.ReserveInput{
		ClinicID:         "c1",
		PractitionerID:   "p1",
		PatientID:        &patientID,
		Kind:             appointment.KindAppointment,
		Start:            now.Add(3 * time.Hour),
		End:              now.Add(3*time.Hour + 30*time.Minute),
		BookingRequestID: &id,
	})
	if err != nil {
		t.Fatal(err)
	}
	held := now.Add(-time.Hour)
	h.store.requests[id].NotificationLockAt = &held

	if err := h.pipeline.Handle(context.Background(), id); err != nil {
		t.Fatalf("handle: %v", err)
	}
	r := h.get(t, id)
	if r.Status != StatusApproved || *r.AppointmentID != appt.ID || *r.PatientID != patientID || r.NotificationSentAt == nil {
		t.Fatalf("unexpected request %+v", r)
	}
	if h.reserver.count() != 1 || len(h.invites.issued) != 1 || len(h.notifier.notices) != 1 {
		t.Errorf("appointments=%d invites=%d notices=%d", h.reserver.count(), len(h.invites.issued), len(h.notifier.notices))
	}
	if n := h.notifier.notices[0]; n.PractitionerEmail != "ada@example.com" || n.IntakeLink == "" {
		t.Errorf("unexpected notice %+v", n)
	}
}

func TestHandle_FailedApprovalResumesOnRedelivery(t *testing.T) {
	h := newHarness()
	h.writes.failApprove = 1
	id := h.submit(t, submission(now.Add(3*time.Hour), "a@example.com", "1990-01-01"))

	if err := h.pipeline.Handle(context.Background(), id); err == nil {
		t.Fatal("expected approval error")
	}
	if r := h.get(t, id); r.Status != StatusPending || r.NotificationLockAt != nil {
		t.Fatalf("expected pending with the lock released, got %+v", r)
	}

	if err := h.pipeline.Handle(context.Background(), id); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	r := h.get(t, id)
	if r.Status != StatusApproved || r.NotificationSentAt == nil {
		t.Fatalf("unexpected request %+v", r)
	}
	if h.reserver.count() != 1 || len(h.invites.issued) != 1 || len(h.notifier.notices) != 1 {
		t.Errorf("appointments=%d invites=%d notices=%d", h.reserver.count(), len(h.invites.issued), len(h.notifier.notices))
	}
	if *r.IntakeInviteID != h.invites.issued[0].ID {
		t.Error("approval must keep the invite linked on the first delivery")
	}
}

func TestAbandon(t *testing.T) {
	t.Run("without appointment", func(t *testing.T) {
		h := newHarness()
		id := h.submit(t, submission(now.Add(3*time.Hour), "a@example.com", "1990-01-01"))

		if err := h.pipeline.Abandon(context.Background(), id, errors.New("db down")); err != nil {
			t.Fatal(err)
		}
		r := h.get(t, id)
		if r.Status != StatusRejected || *r.RejectionReason != ReasonResubmit {
			t.Errorf("unexpected request %+v", r)
		}
	})

	t.Run("with appointment", func(t *testing.T) {
		h := newHarness()
		id := h.submit(t, submission(now.Add(3*time.Hour), "a@example.com", "1990-01-01"))
		patientID := uuid.New()
		appt, _ := h.reserver.Reserve(context.Background(), appointment.ReserveInput{
			PractitionerID:   "p1",
			PatientID:        &patientID,
			Start:            now.Add(3 * time.Hour),
			End:              now.Add(4 * time.Hour),
			BookingRequestID: &id,
		})

		if err := h.pipeline.Abandon(context.Background(), id, errors.New("smtp down")); err != nil {
			t.Fatal(err)
		}
		r := h.get(t, id)
		if r.Status != StatusApproved || *r.AppointmentID != appt.ID {
			t.Errorf("unexpected request %+v", r)
		}
	})

	t.Run("settled request untouched", func(t *testing.T) {
		h := newHarness()
		id := h.submit(t, submission(now.Add(10*time.Minute), "a@example.com", "1990-01-01"))
		_ = h.pipeline.Handle(context.Background(), id)

		if err := h.pipeline.Abandon(context.Background(), id, errors.New("late")); err != nil {
			t.Fatal(err)
		}
		if r := h.get(t, id); !strings.Contains(*r.RejectionReason, "30 minutes") {
			t.Errorf("reason overwritten: %q", *r.RejectionReason)
		}
	})
}

func TestLockable(t *testing.T) {
	staleBefore := now.Add(-5 * time.Minute)
	old, fresh := now.Add(-10*time.Minute), now.Add(-time.Minute)
	tests := []struct {
		name string
		req  Request
		want bool
	}{
		{"unlocked", Request{Status: StatusPending}, true},
		{"live lock", Request{Status: StatusPending, NotificationLockAt: &fresh}, false},
		{"stale lock on pending", Request{Status: StatusPending, NotificationLockAt: &old}, true},
		{"stale lock on settled", Request{Status: StatusRejected, NotificationLockAt: &old}, false},
		{"already sent", Request{Status: StatusApproved, NotificationLockAt: &old, NotificationSentAt: &old}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := lockable(&tc.req, staleBefore); got != tc.want {
				t.Errorf("lockable = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestHandle_BestEffortFailuresKeepAppointment(t *testing.T) {
	h := newHarness()
	h.blocks.fail = true
	h.invites.fail = true
	id := h.submit(t, submission(now.Add(3*time.Hour), "a@example.com", "1990-01-01"))

	if err := h.pipeline.Handle(context.Background(), id); err != nil {
		t.Fatalf("best-effort failures must not fail the pipeline: %v", err)
	}
	r := h.get(t, id)
	if r.Status != StatusApproved || r.IntakeInviteID != nil || r.NotificationSentAt == nil {
		t.Errorf("unexpected request %+v", r)
	}
	if h.notifier.notices[0].IntakeLink != "" {
		t.Error("no link without an invite")
	}
}

func TestHandle_PatientMergeFollowsDOB(t *testing.T) {
	h := newHarness()
	a := h.submit(t, submission(now.Add(2*time.Hour), "Family@Example.com", "1980-02-02"))
	b := h.submit(t, submission(now.Add(4*time.Hour), "family@example.com ", "1980-02-02"))
	c := h.submit(t, submission(now.Add(6*time.Hour), "family@example.com", "2015-09-09"))

	for _, id := range []uuid.UUID{a, b, c} {
		if err := h.pipeline.Handle(context.Background(), id); err != nil {
			t.Fatal(err)
		}
	}
	pa, pb, pc := *h.get(t, a).PatientID, *h.get(t, b).PatientID, *h.get(t, c).PatientID
	if pa != pb {
		t.Error("same email and DOB must merge")
	}
	if pa == pc {
		t.Error("same email with a different DOB must not merge")
	}
	if len(h.patients.patients) != 2 {
		t.Errorf("expected 2 patients, got %d", len(h.patients.patients))
	}
}

func TestHandle_UnknownRequest(t *testing.T) {
	h := newHarness()
	if err := h.pipeline.Handle(context.Background(), uuid.New()); !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestStoredRequest_LegacyPractitionerField(t *testing.T) {
	s := StoredRequest{LegacyClinicianID: " p1 "}
	if got := s.Normalize().PractitionerID; got != "p1" {
		t.Errorf("legacy field not folded: %q", got)
	}
	s.PractitionerID = "p2"
	if got := s.Normalize().PractitionerID; got != "p2" {
		t.Errorf("canonical field must win: %q", got)
	}
}
