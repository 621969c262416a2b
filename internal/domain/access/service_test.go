package access

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"turnstile-service/internal/domain/credentials"
	"turnstile-service/internal/domain/gates"
	"turnstile-service/internal/ports/authority"

	"github.com/golang-jwt/jwt/v5"
)

// -------------------------
// Fakes in-memory
// -------------------------

type testLogs struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (r *testLogs) Append(ctx context.Context, e LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *testLogs) ListRecent(ctx context.Context, gate string, limit int) ([]LogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LogEntry, 0)
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if gate != "" && r.entries[i].Gate != gate {
			continue
		}
		out = append(out, r.entries[i])
	}
	return out, nil
}

func (r *testLogs) CountSynced(ctx context.Context, gate string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, e := range r.entries {
		if e.Synced && (gate == "" || e.Gate == gate) {
			n++
		}
	}
	return n, nil
}

func (r *testLogs) LastSyncedAt(ctx context.Context, gate string) (*time.Time, error) {
	return nil, nil
}

func (r *testLogs) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

var errUsageNotFound = errors.New("usage: not found")

type testUsage struct {
	mu      sync.Mutex
	entries map[string]UsageEntry
}

func newTestUsage() *testUsage {
	return &testUsage{entries: map[string]UsageEntry{}}
}

func (r *testUsage) GetByJTI(ctx context.Context, jti string) (UsageEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[jti]
	if !ok {
		return UsageEntry{}, errUsageNotFound
	}
	return e, nil
}

func (r *testUsage) Create(ctx context.Context, e UsageEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[e.JTI]; ok {
		return errors.New("usage: already exists")
	}
	r.entries[e.JTI] = e
	return nil
}

func (r *testUsage) ConsumeUse(ctx context.Context, jti string, at time.Time) (UsageEntry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[jti]
	if !ok {
		return UsageEntry{}, false, errUsageNotFound
	}
	if e.UsedCount >= e.MaxUses {
		return e, false, nil
	}
	e.UsedCount++
	e.Status = UsageActive
	e.LastSyncAt = at
	r.entries[jti] = e
	return e, true, nil
}

func (r *testUsage) SetStatus(ctx context.Context, jti string, status UsageStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[jti]
	if !ok {
		return errUsageNotFound
	}
	e.Status = status
	r.entries[jti] = e
	return nil
}

func (r *testUsage) UpdateLastSync(ctx context.Context, jti string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[jti]
	if !ok {
		return errUsageNotFound
	}
	e.LastSyncAt = at
	r.entries[jti] = e
	return nil
}

func (r *testUsage) ListStale(ctx context.Context, olderThan time.Time, statuses []UsageStatus) ([]UsageEntry, error) {
	return nil, nil
}

type testPolicies struct {
	mu       sync.Mutex
	byGate   map[string]gates.Policy
	accesses int64
	failed   int64
}

func newTestPolicies(pols ...gates.Policy) *testPolicies {
	p := &testPolicies{byGate: map[string]gates.Policy{}}
	for _, pol := range pols {
		p.byGate[pol.Gate] = pol
	}
	return p
}

func (r *testPolicies) GetByGate(ctx context.Context, gate string) (gates.Policy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pol, ok := r.byGate[gate]
	if !ok {
		return gates.Policy{}, errors.New("policy: not found")
	}
	return pol, nil
}

func (r *testPolicies) IncrementStats(ctx context.Context, gate string, accesses, failedSyncs int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accesses += accesses
	r.failed += failedSyncs
	return nil
}

type testConsumer struct {
	mu    sync.Mutex
	calls int
	fn    func(authority.ConsumeRequest) (authority.ConsumeResult, error)
}

func (c *testConsumer) Consume(ctx context.Context, req authority.ConsumeRequest) (authority.ConsumeResult, error) {
	c.mu.Lock()
	c.calls++
	fn := c.fn
	c.mu.Unlock()
	return fn(req)
}

func consumerOK(body string) *testConsumer {
	return &testConsumer{fn: func(authority.ConsumeRequest) (authority.ConsumeResult, error) {
		return authority.ConsumeResult{Body: []byte(body)}, nil
	}}
}

func consumerDown() *testConsumer {
	return &testConsumer{fn: func(authority.ConsumeRequest) (authority.ConsumeResult, error) {
		return authority.ConsumeResult{}, &authority.UnreachableError{Cause: errors.New("connection refused")}
	}}
}

func consumerRejects(kind authority.RejectionKind, status int, msg string) *testConsumer {
	return &testConsumer{fn: func(authority.ConsumeRequest) (authority.ConsumeResult, error) {
		return authority.ConsumeResult{}, &authority.RejectedError{Kind: kind, StatusCode: status, Message: msg}
	}}
}

type testQueue struct {
	mu      sync.Mutex
	pending []PendingAccess
}

func (q *testQueue) Enqueue(ctx context.Context, p PendingAccess) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, p)
	return nil
}

func (q *testQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// -------------------------
// Helpers
// -------------------------

type fixture struct {
	svc      *Service
	logs     *testLogs
	usage    *testUsage
	policies *testPolicies
	queue    *testQueue
	remote   *testConsumer
	now      time.Time
}

func newFixture(t *testing.T, remote *testConsumer) *fixture {
	t.Helper()

	f := &fixture{
		logs:     &testLogs{},
		usage:    newTestUsage(),
		policies: newTestPolicies(gates.Policy{Gate: "G1", IsActive: true}),
		queue:    &testQueue{},
		remote:   remote,
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(ServiceConfig{
		Logs:     f.logs,
		Usage:    f.usage,
		Policies: f.policies,
		Remote:   f.remote,
		Queue:    f.queue,
	})
	f.svc.now = func() time.Time { return f.now }
	return f
}

func makeToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	raw, err := tok.SignedString([]byte("whatever"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return raw
}

func validClaims(jti string, now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"jti":    jti,
		"sub":    "visit-1",
		"name":   "Ana Ruiz",
		"userId": "user-7",
		"nbf":    now.Add(-time.Hour).Unix(),
		"exp":    now.Add(time.Hour).Unix(),
		"gate":   "G1",
		"max":    1,
	}
}

// -------------------------
// Tests
// -------------------------

func TestScan_GrantedByManager(t *testing.T) {
	f := newFixture(t, consumerOK(`{"status":"consumed"}`))
	token := makeToken(t, validClaims("jti-1", f.now))

	res, err := f.svc.Scan(context.Background(), ScanInput{Token: token, Gate: "G1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || res.AccessType != DecisionGranted {
		t.Fatalf("expected granted, got %+v", res)
	}
	if res.AccessMethod != MethodManager {
		t.Fatalf("expected method %s, got %s", MethodManager, res.AccessMethod)
	}
	if !res.Synced {
		t.Fatalf("manager decision must be synced")
	}
	if f.queue.len() != 0 {
		t.Fatalf("nothing should be queued on a manager decision")
	}
	if len(f.logs.entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(f.logs.entries))
	}
	entry := f.logs.entries[0]
	if !entry.Synced || entry.SyncTimestamp == nil {
		t.Fatalf("log entry must be synced with timestamp: %+v", entry)
	}
	if string(entry.ManagerResponse) != `{"status":"consumed"}` {
		t.Fatalf("manager response not kept: %s", entry.ManagerResponse)
	}
}

func TestScan_DeniedByManager_NoFallback(t *testing.T) {
	f := newFixture(t, consumerRejects(authority.RejectionExhausted, 409, "already used"))
	token := makeToken(t, validClaims("jti-409", f.now))

	res, err := f.svc.Scan(context.Background(), ScanInput{Token: token, Gate: "G1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatalf("409 must deny")
	}
	if res.Reason != "already used" {
		t.Fatalf("authority reason must surface, got %q", res.Reason)
	}
	if !res.Synced {
		t.Fatalf("definitive rejection is an authoritative (synced) decision")
	}
	if f.queue.len() != 0 {
		t.Fatalf("a definitive rejection must not enqueue anything")
	}
	if _, err := f.usage.GetByJTI(context.Background(), "jti-409"); err == nil {
		t.Fatalf("no usage entry should be seeded on a manager rejection")
	}
}

func TestScan_OfflineFallback_GrantsAndQueues(t *testing.T) {
	f := newFixture(t, consumerDown())
	token := makeToken(t, validClaims("jti-off", f.now))

	res, err := f.svc.Scan(context.Background(), ScanInput{Token: token, Gate: "G1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("first offline use must grant: %+v", res)
	}
	if res.AccessMethod != MethodOffline {
		t.Fatalf("expected offline method, got %s", res.AccessMethod)
	}
	if res.Synced {
		t.Fatalf("offline decision must not be marked synced")
	}

	entry, err := f.usage.GetByJTI(context.Background(), "jti-off")
	if err != nil {
		t.Fatalf("usage entry should be seeded: %v", err)
	}
	if entry.UsedCount != 1 || entry.MaxUses != 1 {
		t.Fatalf("expected 1/1 uses, got %d/%d", entry.UsedCount, entry.MaxUses)
	}
	if entry.Status != UsageActive {
		t.Fatalf("expected ACTIVE, got %s", entry.Status)
	}

	if f.queue.len() != 1 {
		t.Fatalf("offline decision must be queued, got %d", f.queue.len())
	}
	p := f.queue.pending[0]
	if p.JTI != "jti-off" || p.AccessType != DecisionGranted {
		t.Fatalf("queued record mismatch: %+v", p)
	}
	if p.Payload.JTI != "jti-off" {
		t.Fatalf("queued record must carry the decoded payload")
	}
}

func TestScan_OfflineSecondUse_Denied(t *testing.T) {
	f := newFixture(t, consumerDown())
	token := makeToken(t, validClaims("jti-twice", f.now))

	first, err := f.svc.Scan(context.Background(), ScanInput{Token: token, Gate: "G1"})
	if err != nil || !first.Success {
		t.Fatalf("first scan should grant: res=%+v err=%v", first, err)
	}

	second, err := f.svc.Scan(context.Background(), ScanInput{Token: token, Gate: "G1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Success {
		t.Fatalf("second use of a 1-use code must deny")
	}
	if !strings.Contains(second.Reason, "maximum number of times (1/1)") {
		t.Fatalf("reason must carry the counters, got %q", second.Reason)
	}
	// La denegación también queda en la cola: la autoridad tiene que enterarse
	// de que el intento existió.
	if f.queue.len() != 2 {
		t.Fatalf("both offline attempts must be queued, got %d", f.queue.len())
	}
	if len(f.logs.entries) != 2 {
		t.Fatalf("every attempt gets a log entry, got %d", len(f.logs.entries))
	}
}

func TestScan_StructurallyInvalid_LoggedNotQueued(t *testing.T) {
	f := newFixture(t, consumerOK(`{}`))
	expired := makeToken(t, jwt.MapClaims{
		"jti": "jti-exp",
		"exp": f.now.Add(-time.Minute).Unix(),
	})

	res, err := f.svc.Scan(context.Background(), ScanInput{Token: expired, Gate: "G1"})
	if err != nil {
		t.Fatalf("structural denial is a decision, not an error: %v", err)
	}
	if res.Success {
		t.Fatalf("expired token must deny")
	}
	if f.remote.calls != 0 {
		t.Fatalf("authority must not be contacted for a structurally invalid token")
	}
	if f.queue.len() != 0 {
		t.Fatalf("structural denials are never queued")
	}
	if len(f.logs.entries) != 1 {
		t.Fatalf("structural denial must still be logged")
	}
}

func TestScan_ExactlyAtExpiry_Grants(t *testing.T) {
	f := newFixture(t, consumerDown())
	token := makeToken(t, jwt.MapClaims{
		"jti": "jti-edge",
		"exp": f.now.Unix(), // exactamente el borde de la ventana
	})

	res, err := f.svc.Scan(context.Background(), ScanInput{Token: token, Gate: "G1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("scan at the exact window end must grant, got %q", res.Reason)
	}
}

func TestScan_AfterWindowEnd_SticksExpired(t *testing.T) {
	f := newFixture(t, consumerDown())

	// Registro cacheado con ventana ya cerrada pero token todavía "válido"
	// estructuralmente (reloj del emisor corrido).
	if err := f.usage.Create(context.Background(), UsageEntry{
		JTI:       "jti-window",
		Gate:      "G1",
		WindowEnd: f.now.Add(-time.Minute),
		MaxUses:   3,
		Status:    UsageActive,
	}); err != nil {
		t.Fatal(err)
	}
	token := makeToken(t, jwt.MapClaims{
		"jti": "jti-window",
		"exp": f.now.Add(time.Hour).Unix(),
	})

	res, err := f.svc.Scan(context.Background(), ScanInput{Token: token, Gate: "G1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatalf("scan past the cached window must deny")
	}

	entry, _ := f.usage.GetByJTI(context.Background(), "jti-window")
	if entry.Status != UsageExpired {
		t.Fatalf("entry must stay EXPIRED, got %s", entry.Status)
	}
	if entry.UsedCount != 0 {
		t.Fatalf("expired scan must not consume a use")
	}

	// Y es pegajoso: aunque un scan posterior caiga "dentro" de la ventana
	// del token, el registro sigue expirado.
	res2, err := f.svc.Scan(context.Background(), ScanInput{Token: token, Gate: "G1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res2.Success || !strings.Contains(res2.Reason, "expired") {
		t.Fatalf("expired entry must keep denying, got %+v", res2)
	}
}

func TestScan_BeforeWindowStart_NoMutation(t *testing.T) {
	f := newFixture(t, consumerDown())

	if err := f.usage.Create(context.Background(), UsageEntry{
		JTI:         "jti-early",
		Gate:        "G1",
		WindowStart: f.now.Add(time.Hour),
		MaxUses:     2,
		Status:      UsagePending,
	}); err != nil {
		t.Fatal(err)
	}
	token := makeToken(t, jwt.MapClaims{"jti": "jti-early"})

	res, err := f.svc.Scan(context.Background(), ScanInput{Token: token, Gate: "G1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatalf("scan before the window must deny")
	}

	entry, _ := f.usage.GetByJTI(context.Background(), "jti-early")
	if entry.Status != UsagePending || entry.UsedCount != 0 {
		t.Fatalf("early scan must not mutate the entry: %+v", entry)
	}
}

func TestScan_GateUnavailable(t *testing.T) {
	f := newFixture(t, consumerOK(`{}`))
	token := makeToken(t, validClaims("jti-g", f.now))

	cases := []struct {
		name string
		pol  gates.Policy
	}{
		{"unknown gate", gates.Policy{}},
		{"inactive", gates.Policy{Gate: "G2", IsActive: false}},
		{"maintenance", gates.Policy{Gate: "G2", IsActive: true, MaintenanceMode: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.pol.Gate != "" {
				f.policies.byGate[tc.pol.Gate] = tc.pol
			}
			_, err := f.svc.Scan(context.Background(), ScanInput{Token: token, Gate: "G2"})
			if !errors.Is(err, ErrGateUnavailable) {
				t.Fatalf("expected ErrGateUnavailable, got %v", err)
			}
		})
	}
	if len(f.logs.entries) != 0 {
		t.Fatalf("unavailable gate must not produce decision logs")
	}
}

func TestScan_MalformedToken(t *testing.T) {
	f := newFixture(t, consumerOK(`{}`))

	_, err := f.svc.Scan(context.Background(), ScanInput{Token: "not-a-token", Gate: "G1"})
	if !errors.Is(err, credentials.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if len(f.logs.entries) != 0 {
		t.Fatalf("undecodable tokens produce no decision log")
	}
}

// Con N scans concurrentes y un solo uso disponible, exactamente uno gana.
func TestScan_ConcurrentOfflineScans_SingleUse(t *testing.T) {
	f := newFixture(t, consumerDown())
	token := makeToken(t, validClaims("jti-race", f.now))

	const n = 16
	results := make([]ScanResult, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Scan(context.Background(), ScanInput{Token: token, Gate: "G1"})
		}(i)
	}
	wg.Wait()

	granted := 0
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("scan %d errored: %v", i, errs[i])
		}
		if results[i].Success {
			granted++
		}
	}
	if granted != 1 {
		t.Fatalf("expected exactly 1 grant, got %d", granted)
	}

	entry, err := f.usage.GetByJTI(context.Background(), "jti-race")
	if err != nil {
		t.Fatal(err)
	}
	if entry.UsedCount != 1 {
		t.Fatalf("used count must be exactly 1, got %d", entry.UsedCount)
	}
}

func TestHistory_DefaultAndCap(t *testing.T) {
	f := newFixture(t, consumerOK(`{}`))
	for i := 0; i < 60; i++ {
		if err := f.logs.Append(context.Background(), LogEntry{Gate: "G1", Timestamp: f.now}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := f.svc.History(context.Background(), "G1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != DefaultHistoryLimit {
		t.Fatalf("default limit should apply, got %d", len(got))
	}

	got, err = f.svc.History(context.Background(), "G1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 10 {
		t.Fatalf("explicit limit should apply, got %d", len(got))
	}
}
