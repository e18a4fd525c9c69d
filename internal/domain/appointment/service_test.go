package appointment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ehr/intake/internal/platform/events"
)

// -- Mock Repository --

type mockRepo struct {
	items  map[string]*Appointment
	nextID int
	err    error
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[string]*Appointment)}
}

func (m *mockRepo) List(_ context.Context) ([]*Appointment, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]*Appointment, 0, len(m.items))
	for _, a := range m.items {
		out = append(out, clone(a))
	}
	return out, nil
}

func (m *mockRepo) Create(_ context.Context, in Input) (*Appointment, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.nextID++
	a := newRecord(in)
	a.ID = fmt.Sprint(m.nextID)
	m.items[a.ID] = a
	return clone(a), nil
}

func (m *mockRepo) Update(_ context.Context, id string, p Patch) (*Appointment, bool, error) {
	if m.err != nil {
		return nil, false, m.err
	}
	a, ok := m.items[id]
	if !ok {
		return nil, false, nil
	}
	p.Apply(a)
	return clone(a), true, nil
}

func (m *mockRepo) Delete(_ context.Context, id string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.items[id]; !ok {
		return false, nil
	}
	delete(m.items, id)
	return true, nil
}

func (m *mockRepo) GetByID(_ context.Context, id string) (*Appointment, bool, error) {
	if m.err != nil {
		return nil, false, m.err
	}
	a, ok := m.items[id]
	if !ok {
		return nil, false, nil
	}
	return clone(a), true, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

func newTestService() (*Service, *mockRepo, *recordingPublisher) {
	repo := newMockRepo()
	pub := &recordingPublisher{}
	return NewService(repo, pub, zerolog.Nop()), repo, pub
}

func TestService_Create(t *testing.T) {
	svc, repo, pub := newTestService()

	a, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, ok := repo.items[a.ID]; !ok {
		t.Error("expected record in repo")
	}
	if got := pub.types(); len(got) != 1 || got[0] != events.TypeCreated {
		t.Errorf("events = %v", got)
	}
	if pub.events[0].ResourceID != a.ID {
		t.Errorf("event resource = %q, want %q", pub.events[0].ResourceID, a.ID)
	}
}

func TestService_CreateValidationError(t *testing.T) {
	svc, repo, pub := newTestService()
	in := validInput()
	in.Email = "not-an-email"

	_, err := svc.Create(context.Background(), in)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Fields) != 1 || ve.Fields[0].Field != "email" {
		t.Errorf("fields = %+v", ve.Fields)
	}
	if len(repo.items) != 0 {
		t.Error("invalid input must not reach the store")
	}
	if len(pub.types()) != 0 {
		t.Error("no event expected")
	}
}

func TestService_CreateStoreError(t *testing.T) {
	svc, repo, pub := newTestService()
	repo.err = errors.New("boom")

	if _, err := svc.Create(context.Background(), validInput()); err == nil {
		t.Fatal("expected error")
	}
	if len(pub.types()) != 0 {
		t.Error("no event expected on failure")
	}
}

func TestService_PublishFailureDoesNotFailMutation(t *testing.T) {
	svc, _, pub := newTestService()
	pub.err = errors.New("broker down")

	if _, err := svc.Create(context.Background(), validInput()); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestService_Update(t *testing.T) {
	svc, _, pub := newTestService()
	ctx := context.Background()
	a, _ := svc.Create(ctx, validInput())

	got, found, err := svc.Update(ctx, a.ID, Patch{Notes: ptrStr("follow-up")})
	if err != nil || !found {
		t.Fatalf("Update: found=%v err=%v", found, err)
	}
	if got.Notes != "follow-up" {
		t.Errorf("Notes = %q", got.Notes)
	}
	if types := pub.types(); len(types) != 2 || types[1] != events.TypeUpdated {
		t.Errorf("events = %v", types)
	}
}

func TestService_UpdateNotFound(t *testing.T) {
	svc, _, pub := newTestService()

	got, found, err := svc.Update(context.Background(), "nonexistent-id", Patch{Notes: ptrStr("x")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found || got != nil {
		t.Error("expected not found")
	}
	if len(pub.types()) != 0 {
		t.Error("no event expected")
	}
}

func TestService_UpdateRejectsInvalidPatch(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	a, _ := svc.Create(ctx, validInput())

	_, _, err := svc.Update(ctx, a.ID, Patch{FullName: ptrStr("")})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	got, _, _ := svc.GetByID(ctx, a.ID)
	if got.FullName != a.FullName {
		t.Error("rejected patch must not be applied")
	}
}

func TestService_Delete(t *testing.T) {
	svc, _, pub := newTestService()
	ctx := context.Background()
	a, _ := svc.Create(ctx, validInput())

	removed, err := svc.Delete(ctx, a.ID)
	if err != nil || !removed {
		t.Fatalf("Delete: removed=%v err=%v", removed, err)
	}
	if _, found, _ := svc.GetByID(ctx, a.ID); found {
		t.Error("expected record to be gone")
	}

	removed, err = svc.Delete(ctx, a.ID)
	if err != nil || removed {
		t.Errorf("second delete: removed=%v err=%v", removed, err)
	}
	if types := pub.types(); len(types) != 2 || types[1] != events.TypeDeleted {
		t.Errorf("events = %v", types)
	}
}

func TestService_List(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	svc.Create(ctx, validInput())
	svc.Create(ctx, validInput())

	items, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("expected 2 items, got %d", len(items))
	}
}

func TestValidationError_Message(t *testing.T) {
	err := &ValidationError{Fields: []FieldError{{Field: "email"}, {Field: "phone"}}}
	if err.Error() != "validation failed: email, phone" {
		t.Errorf("Error() = %q", err.Error())
	}
}
