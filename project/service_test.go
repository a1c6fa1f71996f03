package project

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"gigflow/notify"
)

const (
	testClient   = "client-1"
	testCreative = "creative-1"
)

func newTestService(repo *fakeRepo, outbox *fakeOutbox) *Service {
	svc := NewService(&fakePool{}, repo, outbox)
	svc.WithIDGenerator(func() string { return "proj-gen" })
	return svc
}

func int64p(v int64) *int64 { return &v }

func strp(v string) *string { return &v }

func TestCreateOpenProject(t *testing.T) {
	repo := newFakeRepo()
	outbox := &fakeOutbox{}
	svc := newTestService(repo, outbox)

	p, err := svc.Create(context.Background(), CreateParams{
		ClientID:  testClient,
		Title:     "Logo refresh",
		BudgetMin: int64p(500),
		BudgetMax: int64p(2000),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Status != StatusOpen {
		t.Fatalf("status = %s, want open", p.Status)
	}
	if p.BudgetType != BudgetFixed {
		t.Fatalf("budget type = %s, want fixed default", p.BudgetType)
	}
	if len(outbox.events) != 0 {
		t.Fatalf("open project should not notify, got %d events", len(outbox.events))
	}
}

func TestCreateRejectsInvertedBudget(t *testing.T) {
	svc := newTestService(newFakeRepo(), &fakeOutbox{})

	_, err := svc.Create(context.Background(), CreateParams{
		ClientID:  testClient,
		Title:     "Bad range",
		BudgetMin: int64p(3000),
		BudgetMax: int64p(1000),
	})
	if err == nil {
		t.Fatal("expected budget range error")
	}
}

func TestCreateRequiresTitle(t *testing.T) {
	svc := newTestService(newFakeRepo(), &fakeOutbox{})

	if _, err := svc.Create(context.Background(), CreateParams{ClientID: testClient}); err == nil {
		t.Fatal("expected title error")
	}
}

func TestCreateDirectRequestNotifiesTarget(t *testing.T) {
	repo := newFakeRepo()
	outbox := &fakeOutbox{}
	svc := newTestService(repo, outbox)

	p, err := svc.Create(context.Background(), CreateParams{
		ClientID:         testClient,
		Title:            "Direct gig",
		BudgetMax:        int64p(1500),
		IsDirect:         true,
		TargetCreativeID: strp(testCreative),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !p.IsDirect {
		t.Fatal("project should be direct")
	}
	if len(outbox.events) != 1 {
		t.Fatalf("events = %d, want 1", len(outbox.events))
	}
	ev := outbox.events[0]
	if ev.Type != notify.TypeWorkRequest {
		t.Fatalf("event type = %s, want %s", ev.Type, notify.TypeWorkRequest)
	}
	if ev.RecipientID != testCreative || ev.ActorID != testClient {
		t.Fatalf("event routed to %s from %s", ev.RecipientID, ev.ActorID)
	}
}

func TestCreateDirectRequestNeedsTarget(t *testing.T) {
	svc := newTestService(newFakeRepo(), &fakeOutbox{})

	_, err := svc.Create(context.Background(), CreateParams{
		ClientID: testClient,
		Title:    "Direct gig",
		IsDirect: true,
	})
	if err == nil {
		t.Fatal("expected missing target error")
	}
}

func TestCancelOpenProject(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(Project{ID: "p1", ClientID: testClient, Title: "Gig", Status: StatusOpen})
	outbox := &fakeOutbox{}
	svc := newTestService(repo, outbox)

	p, err := svc.Cancel(context.Background(), "p1", testClient)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if p.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", p.Status)
	}
	if len(outbox.events) != 0 {
		t.Fatalf("open (non-direct) cancel should not notify, got %d", len(outbox.events))
	}
}

func TestCancelDirectProjectNotifiesTarget(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(Project{
		ID: "p1", ClientID: testClient, Title: "Direct gig",
		Status: StatusOpen, IsDirect: true, TargetCreativeID: strp(testCreative),
	})
	outbox := &fakeOutbox{}
	svc := newTestService(repo, outbox)

	if _, err := svc.Cancel(context.Background(), "p1", testClient); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(outbox.events) != 1 {
		t.Fatalf("events = %d, want 1", len(outbox.events))
	}
	if outbox.events[0].RecipientID != testCreative {
		t.Fatalf("recipient = %s, want target creative", outbox.events[0].RecipientID)
	}
}

func TestCancelForbiddenForNonOwner(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(Project{ID: "p1", ClientID: testClient, Status: StatusOpen})
	svc := newTestService(repo, &fakeOutbox{})

	if _, err := svc.Cancel(context.Background(), "p1", "someone-else"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestCancelAssignedProjectRejected(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(Project{ID: "p1", ClientID: testClient, Status: StatusAssigned})
	svc := newTestService(repo, &fakeOutbox{})

	if _, err := svc.Cancel(context.Background(), "p1", testClient); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestCancelUnknownProject(t *testing.T) {
	svc := newTestService(newFakeRepo(), &fakeOutbox{})

	if _, err := svc.Cancel(context.Background(), "missing", testClient); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

// --- fakes ---

type fakeRepo struct {
	projects map[string]Project
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{projects: make(map[string]Project)}
}

func (f *fakeRepo) seed(p Project) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	f.projects[p.ID] = p
}

func (f *fakeRepo) Create(_ context.Context, _ pgx.Tx, p Project) (Project, error) {
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	f.projects[p.ID] = p
	return p, nil
}

func (f *fakeRepo) GetByID(_ context.Context, id string) (Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return Project{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeRepo) GetForUpdate(_ context.Context, _ pgx.Tx, id string) (Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return Project{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeRepo) UpdateStatus(_ context.Context, _ pgx.Tx, id string, status Status) (Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return Project{}, ErrNotFound
	}
	p.Status = status
	p.UpdatedAt = time.Now()
	f.projects[id] = p
	return p, nil
}

func (f *fakeRepo) List(_ context.Context, _ Filters) ([]Project, int, error) {
	out := make([]Project, 0, len(f.projects))
	for _, p := range f.projects {
		out = append(out, p)
	}
	return out, len(out), nil
}

type fakeOutbox struct {
	events []notify.Event
}

func (f *fakeOutbox) Enqueue(_ context.Context, _ pgx.Tx, event notify.Event) error {
	f.events = append(f.events, event)
	return nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
