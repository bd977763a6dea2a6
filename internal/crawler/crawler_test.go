package crawler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/georgenavi/esimdb-scraper/internal/domain"
	"github.com/georgenavi/esimdb-scraper/internal/storage"
	"github.com/georgenavi/esimdb-scraper/pkg/esimdb"
	"github.com/georgenavi/esimdb-scraper/pkg/publishers"
)

// fakePipeline returns preset outcomes per slug and tracks concurrency.
type fakePipeline struct {
	fail    map[string]error
	panicOn string
	delay   time.Duration
	onStart func(ctx context.Context, country domain.Country)

	active *int32
	peak   *int32
}

func (f *fakePipeline) Process(ctx context.Context, country domain.Country) domain.EntityOutcome {
	if f.active != nil {
		n := atomic.AddInt32(f.active, 1)
		defer atomic.AddInt32(f.active, -1)
		for {
			p := atomic.LoadInt32(f.peak)
			if n <= p || atomic.CompareAndSwapInt32(f.peak, p, n) {
				break
			}
		}
	}
	if f.onStart != nil {
		f.onStart(ctx, country)
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if country.Slug == f.panicOn {
		panic("unexpected nil map")
	}
	if err := f.fail[country.Slug]; err != nil {
		return domain.EntityOutcome{Slug: country.Slug, Name: country.Name, Err: err}
	}
	return domain.EntityOutcome{Slug: country.Slug, Name: country.Name, Success: true, RecordCount: 2}
}

// fakeRecorder collects ledger records.
type fakeRecorder struct {
	mu      sync.Mutex
	records []storage.OutcomeRecord
	err     error
}

func (f *fakeRecorder) RecordOutcome(rec storage.OutcomeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return f.err
}

// fakePublisher records published events and can inject errors.
type fakePublisher struct {
	mu     sync.Mutex
	events []publishers.Event
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, evt publishers.Event) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	if f.err != nil {
		return 0, f.err
	}
	return 1, nil
}

func countriesOf(slugs ...string) []domain.Country {
	out := make([]domain.Country, len(slugs))
	for i, s := range slugs {
		out[i] = domain.Country{Slug: s, Name: s}
	}
	return out
}

func staticFactory(p Pipeline) PipelineFactory {
	return func() (Pipeline, error) { return p, nil }
}

func TestServiceRunIsolatesCountryFailure(t *testing.T) {
	exhausted := &esimdb.FetchError{Kind: esimdb.KindPermanent, URL: "/countries/chad/data-plans", Attempt: 3, Err: esimdb.ErrRetryExhausted}
	rec := &fakeRecorder{}
	pub := &fakePublisher{}
	svc := NewService(Options{
		Workers:     3,
		NewPipeline: staticFactory(&fakePipeline{fail: map[string]error{"chad": exhausted}}),
		Recorder:    rec,
		Publisher:   pub,
		RunID:       "run-1",
		RunDate:     time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
	})

	summary := svc.Run(context.Background(), countriesOf("france", "chad", "japan"))
	if summary.Attempted != 3 || summary.Succeeded != 2 || summary.Failed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.TotalRecords != 4 || summary.Skipped != 0 || summary.Cancelled {
		t.Fatalf("unexpected totals %+v", summary)
	}
	for _, o := range summary.Outcomes {
		if o.Slug == "chad" && !errors.Is(o.Err, esimdb.ErrRetryExhausted) {
			t.Fatalf("chad outcome lost its cause: %v", o.Err)
		}
	}
	if len(rec.records) != 3 {
		t.Fatalf("expected 3 ledger records, got %d", len(rec.records))
	}
	for _, r := range rec.records {
		if r.RunID != "run-1" || r.RunDate != "20250115" {
			t.Fatalf("ledger record missing run identity: %+v", r)
		}
		if r.Slug == "chad" && (r.Success || r.Error == "") {
			t.Fatalf("chad ledger record should carry the failure: %+v", r)
		}
	}
	if len(pub.events) != 3 || pub.events[0].Type != publishers.EventCountryCompleted {
		t.Fatalf("expected 3 country events, got %+v", pub.events)
	}
}

func TestServiceRunPoolSize(t *testing.T) {
	cases := []struct {
		name      string
		workers   int
		countries int
		want      int32
	}{
		{"fewer countries than workers", 5, 2, 2},
		{"more countries than workers", 5, 12, 5},
		{"single worker", 1, 4, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var built, active, peak int32
			factory := func() (Pipeline, error) {
				atomic.AddInt32(&built, 1)
				return &fakePipeline{delay: 20 * time.Millisecond, active: &active, peak: &peak}, nil
			}
			slugs := make([]string, tc.countries)
			for i := range slugs {
				slugs[i] = string(rune('a' + i))
			}

			summary := NewService(Options{Workers: tc.workers, NewPipeline: factory}).Run(context.Background(), countriesOf(slugs...))
			if summary.Attempted != tc.countries {
				t.Fatalf("attempted %d, want %d", summary.Attempted, tc.countries)
			}
			if built != tc.want {
				t.Fatalf("built %d pipelines, want %d", built, tc.want)
			}
			if peak > tc.want {
				t.Fatalf("peak concurrency %d exceeds pool size %d", peak, tc.want)
			}
		})
	}
}

func TestServiceRunCancellationSkipsUndispatched(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var unitCtxErr error
	pipeline := &fakePipeline{onStart: func(unitCtx context.Context, _ domain.Country) {
		cancel()
		unitCtxErr = unitCtx.Err()
	}}
	summary := NewService(Options{Workers: 1, NewPipeline: staticFactory(pipeline)}).
		Run(ctx, countriesOf("france", "spain", "italy"))

	if unitCtxErr != nil {
		t.Fatalf("in-flight unit observed cancellation: %v", unitCtxErr)
	}
	if summary.Attempted != 1 || summary.Succeeded != 1 {
		t.Fatalf("expected the in-flight unit to finish, got %+v", summary)
	}
	if summary.Skipped != 2 || !summary.Cancelled {
		t.Fatalf("expected 2 skipped and cancelled, got %+v", summary)
	}
}

func TestServiceRunAlreadyCancelledStartsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var built int32
	factory := func() (Pipeline, error) {
		atomic.AddInt32(&built, 1)
		return &fakePipeline{}, nil
	}
	summary := NewService(Options{Workers: 2, NewPipeline: factory}).Run(ctx, countriesOf("a", "b", "c"))
	if summary.Attempted != 0 || summary.Skipped != 3 || !summary.Cancelled {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestServiceRunRecoversPanic(t *testing.T) {
	summary := NewService(Options{Workers: 2, NewPipeline: staticFactory(&fakePipeline{panicOn: "b"})}).
		Run(context.Background(), countriesOf("a", "b", "c"))
	if summary.Succeeded != 2 || summary.Failed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	for _, o := range summary.Outcomes {
		if o.Slug == "b" && (o.Success || o.Err == nil) {
			t.Fatalf("panicking unit should fail: %+v", o)
		}
	}
}

func TestServiceRunFactoryErrorFailsUnits(t *testing.T) {
	factory := func() (Pipeline, error) { return nil, errors.New("no transport") }
	summary := NewService(Options{Workers: 2, NewPipeline: factory}).Run(context.Background(), countriesOf("a", "b"))
	if summary.Failed != 2 || summary.Succeeded != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestServiceRunSideChannelFailuresAreNotFatal(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("disk full")}
	pub := &fakePublisher{err: errors.New("queue down")}
	summary := NewService(Options{
		NewPipeline: staticFactory(&fakePipeline{}),
		Recorder:    rec,
		Publisher:   pub,
	}).Run(context.Background(), countriesOf("a"))
	if summary.Succeeded != 1 {
		t.Fatalf("side-channel errors changed the outcome: %+v", summary)
	}
}

func TestServiceRunEmpty(t *testing.T) {
	summary := NewService(Options{NewPipeline: staticFactory(&fakePipeline{})}).Run(context.Background(), nil)
	if summary.Attempted != 0 || summary.Cancelled {
		t.Fatalf("unexpected summary %+v", summary)
	}
}
