package refresh

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voyagen/streamvault/internal/cache"
	"github.com/voyagen/streamvault/internal/fetcher"
	"github.com/voyagen/streamvault/internal/models"
	"github.com/voyagen/streamvault/internal/progress"
	"github.com/voyagen/streamvault/internal/store"
)

type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocks() *memLocks { return &memLocks{held: make(map[string]bool)} }

func (l *memLocks) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, cache.ErrLocked
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, nil
}

type fakeSource struct {
	result *fetcher.ParseResult
	err    error
}

func (s fakeSource) Fetch(ctx context.Context, account *models.Account) (*fetcher.ParseResult, error) {
	return s.result, s.err
}

func testRunner(m *store.Memory, src fetcher.Source) *Runner {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return &Runner{
		Store:     m,
		Locks:     newMemLocks(),
		Sources:   map[int16]fetcher.Source{models.AccountTypeM3U: src},
		Sink:      progress.Nop{},
		Log:       logrus.NewEntry(l),
		BatchSize: 100,
		Workers:   2,
	}
}

func sampleFeed() *fetcher.ParseResult {
	return &fetcher.ParseResult{
		Groups: []string{"Sports"},
		Tuples: []models.StreamTuple{{Name: "ESPN", URL: "http://host/1", GroupName: "Sports"}},
	}
}

func TestRefreshFullPipeline(t *testing.T) {
	m := store.NewMemory()
	m.AddAccount(models.Account{ID: 1, Name: "prov", IsActive: true, AccountType: models.AccountTypeM3U})

	feed := &fetcher.ParseResult{
		Groups: []string{"Sports", "News"},
		Tuples: []models.StreamTuple{
			{Name: "ESPN", URL: "http://host/1", GroupName: "Sports"},
			{Name: "CNN", URL: "http://host/2", GroupName: "News"},
			{Name: "Odd One", URL: "http://host/3"},
		},
	}
	r := testRunner(m, fakeSource{result: feed})

	sum, err := r.Refresh(context.Background(), 1)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if sum.Created != 3 {
		t.Fatalf("created = %d, want 3 (default group catches the ungrouped tuple)", sum.Created)
	}
	if m.StreamCount() != 3 {
		t.Fatalf("stored %d streams, want 3", m.StreamCount())
	}

	acct, err := m.GetAccount(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.Status != models.StatusSuccess {
		t.Errorf("status = %q, want success", acct.Status)
	}
	if !strings.Contains(acct.LastMessage, "3 created") {
		t.Errorf("last message = %q, want counts in the summary line", acct.LastMessage)
	}
	if acct.LastRefreshedAt == nil {
		t.Error("last_refreshed_at not persisted")
	}
}

func TestRefreshRerunIsIdempotent(t *testing.T) {
	m := store.NewMemory()
	m.AddAccount(models.Account{ID: 1, Name: "prov", IsActive: true, AccountType: models.AccountTypeM3U})
	feed := &fetcher.ParseResult{
		Groups: []string{"Sports"},
		Tuples: []models.StreamTuple{{Name: "ESPN", URL: "http://host/1", GroupName: "Sports"}},
	}
	r := testRunner(m, fakeSource{result: feed})

	if _, err := r.Refresh(context.Background(), 1); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	sum, err := r.Refresh(context.Background(), 1)
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if sum.Created != 0 || sum.Updated != 0 || sum.Deleted != 0 {
		t.Fatalf("second run %+v, want all-zero counts", sum)
	}
}

func TestRefreshLockContention(t *testing.T) {
	m := store.NewMemory()
	m.AddAccount(models.Account{ID: 1, Name: "prov", IsActive: true, AccountType: models.AccountTypeM3U})
	r := testRunner(m, fakeSource{result: sampleFeed()})

	locks := newMemLocks()
	r.Locks = locks
	release, err := locks.TryLock(context.Background(), cache.RefreshLockKey("refresh", 1), time.Minute)
	if err != nil {
		t.Fatalf("pre-acquire: %v", err)
	}
	defer release()

	if _, err := r.Refresh(context.Background(), 1); !errors.Is(err, cache.ErrLocked) {
		t.Fatalf("err = %v, want ErrLocked", err)
	}
	if m.StreamCount() != 0 {
		t.Fatal("contended refresh must not touch the store")
	}

	acct, _ := m.GetAccount(context.Background(), 1)
	if acct.Status == models.StatusError {
		t.Fatal("lock contention is not an error state")
	}
}

func TestRefreshFetchFailureSetsError(t *testing.T) {
	m := store.NewMemory()
	m.AddAccount(models.Account{ID: 1, Name: "prov", IsActive: true, AccountType: models.AccountTypeM3U})
	r := testRunner(m, fakeSource{err: errors.New("connection refused by provider")})

	if _, err := r.Refresh(context.Background(), 1); err == nil {
		t.Fatal("want fetch failure to propagate")
	}
	acct, _ := m.GetAccount(context.Background(), 1)
	if acct.Status != models.StatusError {
		t.Fatalf("status = %q, want error", acct.Status)
	}
	if !strings.Contains(acct.LastMessage, "connection refused by provider") {
		t.Errorf("last message = %q, want the causing message verbatim", acct.LastMessage)
	}
}

func TestRefreshSkipsInactiveAccount(t *testing.T) {
	m := store.NewMemory()
	m.AddAccount(models.Account{ID: 1, Name: "prov", IsActive: false, AccountType: models.AccountTypeM3U})
	r := testRunner(m, fakeSource{result: sampleFeed()})

	sum, err := r.Refresh(context.Background(), 1)
	if err != nil || sum != nil {
		t.Fatalf("got (%v, %v), want a silent no-op", sum, err)
	}
}

func TestRefreshUnknownAccount(t *testing.T) {
	m := store.NewMemory()
	r := testRunner(m, fakeSource{result: sampleFeed()})
	if _, err := r.Refresh(context.Background(), 42); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
