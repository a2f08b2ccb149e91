package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cvsyn/rin-api/internal/models"
	"github.com/cvsyn/rin-api/internal/rin"
	"github.com/cvsyn/rin-api/internal/store"
)

// fakeStore is an in-memory DataStore with the same atomicity
// guarantees the real stores provide: insert-if-absent on rin and a
// conditional claim update.
type fakeStore struct {
	mu       sync.Mutex
	entities map[string]*models.Entity
	agents   map[string]*models.Agent
	daily    map[string]models.DailyStat

	// rejectInserts forces this many insert collisions before
	// accepting, to exercise the retry loop.
	rejectInserts int
	insertCalls   int

	// missOnGet forces this many GetAgent lookups to miss, simulating
	// a registration race where the row appears between the existence
	// check and the insert.
	missOnGet int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entities: make(map[string]*models.Entity),
		agents:   make(map[string]*models.Agent),
		daily:    make(map[string]models.DailyStat),
	}
}

func (f *fakeStore) Close() {}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) InsertEntity(_ context.Context, e *models.Entity) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertCalls++
	if f.insertCalls <= f.rejectInserts {
		return false, nil
	}
	if _, exists := f.entities[e.RIN]; exists {
		return false, nil
	}
	cp := *e
	f.entities[e.RIN] = &cp
	return true, nil
}

func (f *fakeStore) GetEntity(_ context.Context, rinCode string) (*models.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entities[rinCode]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (f *fakeStore) ClaimEntity(_ context.Context, rinCode, tokenHash, claimedBy string, claimedAt time.Time) (*models.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entities[rinCode]
	if !ok || e.Status != models.StatusUnclaimed || e.ClaimTokenHash == nil || *e.ClaimTokenHash != tokenHash {
		return nil, nil
	}
	e.Status = models.StatusClaimed
	e.ClaimedBy = &claimedBy
	e.ClaimedAt = &claimedAt
	e.ClaimTokenHash = nil
	e.ClaimTokenIssuedAt = nil
	cp := *e
	return &cp, nil
}

func (f *fakeStore) GetAgent(_ context.Context, name string) (*models.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missOnGet > 0 {
		f.missOnGet--
		return nil, nil
	}
	a, ok := f.agents[name]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (f *fakeStore) CreateAgent(_ context.Context, name string, description *string, keyHash string, createdAt time.Time) (*models.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.agents[name]; exists {
		return nil, store.ErrDuplicateName
	}
	a := &models.Agent{Name: name, Description: description, APIKeyHash: keyHash, CreatedAt: createdAt}
	f.agents[name] = a
	cp := *a
	return &cp, nil
}

func (f *fakeStore) ReviveAgent(_ context.Context, name string, description *string, keyHash string) (*models.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.agents[name]
	a.APIKeyHash = keyHash
	a.Description = description
	a.RevokedAt = nil
	a.LastSeenAt = nil
	cp := *a
	return &cp, nil
}

func (f *fakeStore) GetAgentByKeyHash(_ context.Context, keyHash string) (*models.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.agents {
		if a.APIKeyHash == keyHash && a.RevokedAt == nil {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) TouchAgent(_ context.Context, name string, seenAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.agents[name]; ok {
		a.LastSeenAt = &seenAt
	}
	return nil
}

func (f *fakeStore) RotateAgentKey(_ context.Context, name, keyHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.agents[name]
	a.APIKeyHash = keyHash
	a.RevokedAt = nil
	return nil
}

func (f *fakeStore) RevokeAgent(_ context.Context, name string, revokedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.agents[name]
	a.RevokedAt = &revokedAt
	a.Bio = nil
	a.AvatarURL = nil
	a.Links = nil
	return nil
}

func (f *fakeStore) UpdateAgentProfile(_ context.Context, name string, bio, avatarURL *string, links map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.agents[name]
	a.Bio = bio
	a.AvatarURL = avatarURL
	a.Links = links
	return nil
}

func (f *fakeStore) CountIssuedBetween(_ context.Context, start, end time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, e := range f.entities {
		if !e.IssuedAt.Before(start) && e.IssuedAt.Before(end) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CountClaimedBetween(_ context.Context, start, end time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, e := range f.entities {
		if e.ClaimedAt != nil && !e.ClaimedAt.Before(start) && e.ClaimedAt.Before(end) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) UpsertDailyStat(_ context.Context, stat models.DailyStat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.daily[stat.Day] = stat
	return nil
}

func (f *fakeStore) RecentDailyStats(_ context.Context, days int) ([]models.DailyStat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stats []models.DailyStat
	for _, st := range f.daily {
		stats = append(stats, st)
	}
	return stats, nil
}

func (f *fakeStore) DailyTotals(_ context.Context) (models.DailyStat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var totals models.DailyStat
	for _, st := range f.daily {
		totals.RegisterCount += st.RegisterCount
		totals.ClaimCount += st.ClaimCount
	}
	return totals, nil
}

func newTestService(t *testing.T, fs *fakeStore) *Service {
	t.Helper()
	return New(Config{
		Store:            fs,
		ClaimTokenPepper: "claim-pepper",
		APIKeyPepper:     "key-pepper",
	})
}

func strptr(s string) *string { return &s }

func TestIssue(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "assistant", strptr("helper"), strptr("issuer-agent"))
	if err != nil {
		t.Fatal(err)
	}
	e := issued.Entity
	if len(e.RIN) < rin.MinCodeLen || len(e.RIN) > rin.MaxCodeLen {
		t.Fatalf("rin %q has bad length", e.RIN)
	}
	for _, c := range e.RIN {
		if !strings.ContainsRune(rin.Alphabet, c) {
			t.Fatalf("rin %q contains %q outside alphabet", e.RIN, c)
		}
	}
	if e.Status != models.StatusUnclaimed {
		t.Fatalf("status = %s, want UNCLAIMED", e.Status)
	}
	if issued.ClaimToken == "" {
		t.Fatal("plaintext claim token missing")
	}
	if e.ClaimTokenHash == nil || *e.ClaimTokenHash == issued.ClaimToken {
		t.Fatal("stored token hash should be set and differ from plaintext")
	}
	if e.ClaimTokenIssuedAt == nil {
		t.Fatal("claim_token_issued_at should be set while unclaimed")
	}

	if _, err := svc.Issue(ctx, "", nil, nil); KindOf(err) != KindValidation {
		t.Fatalf("empty agent_type: got %v, want validation error", err)
	}
}

func TestIssueRetriesOnCollision(t *testing.T) {
	fs := newFakeStore()
	fs.rejectInserts = 3
	svc := newTestService(t, fs)

	issued, err := svc.Issue(context.Background(), "assistant", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if issued.Entity.RIN == "" {
		t.Fatal("expected a rin after retries")
	}
	if fs.insertCalls != 4 {
		t.Fatalf("insert attempts = %d, want 4", fs.insertCalls)
	}
}

func TestIssueExhaustsRetries(t *testing.T) {
	fs := newFakeStore()
	fs.rejectInserts = maxIssueAttempts
	svc := newTestService(t, fs)

	_, err := svc.Issue(context.Background(), "assistant", nil, nil)
	if !errors.Is(err, ErrExhaustedRetries) {
		t.Fatalf("got %v, want ErrExhaustedRetries", err)
	}
	if fs.insertCalls != maxIssueAttempts {
		t.Fatalf("insert attempts = %d, want %d", fs.insertCalls, maxIssueAttempts)
	}
}

func TestIssueConcurrentCodesAreDistinct(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	rins := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			issued, err := svc.Issue(ctx, "assistant", nil, nil)
			if err != nil {
				t.Error(err)
				return
			}
			rins <- issued.Entity.RIN
		}()
	}
	wg.Wait()
	close(rins)

	seen := make(map[string]bool)
	for r := range rins {
		if seen[r] {
			t.Fatalf("duplicate rin %q issued", r)
		}
		seen[r] = true
	}
	if len(seen) != n {
		t.Fatalf("issued %d distinct rins, want %d", len(seen), n)
	}
}

func TestRedeem(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "assistant", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	code := issued.Entity.RIN

	claimed, err := svc.Redeem(ctx, code, "Ada Lovelace", issued.ClaimToken)
	if err != nil {
		t.Fatal(err)
	}
	if claimed.Status != models.StatusClaimed {
		t.Fatalf("status = %s, want CLAIMED", claimed.Status)
	}
	if claimed.ClaimedBy == nil || *claimed.ClaimedBy != "Ada Lovelace" {
		t.Fatalf("claimed_by = %v", claimed.ClaimedBy)
	}
	if claimed.ClaimedAt == nil {
		t.Fatal("claimed_at missing")
	}
	if claimed.ClaimTokenHash != nil || claimed.ClaimTokenIssuedAt != nil {
		t.Fatal("token fields must be absent after redemption")
	}

	// Second redemption fails on status, not on the token, because the
	// first one already cleared the hash.
	if _, err := svc.Redeem(ctx, code, "Someone Else", issued.ClaimToken); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("second redeem: got %v, want ErrAlreadyClaimed", err)
	}
}

func TestRedeemWrongToken(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "assistant", nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Redeem(ctx, issued.Entity.RIN, "Ada", "not-the-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong token: got %v, want ErrInvalidToken", err)
	}
	// The failed attempt must not consume the real token.
	if _, err := svc.Redeem(ctx, issued.Entity.RIN, "Ada", issued.ClaimToken); err != nil {
		t.Fatalf("valid redeem after failed attempt: %v", err)
	}
}

func TestRedeemUnknownRIN(t *testing.T) {
	svc := newTestService(t, newFakeStore())
	if _, err := svc.Redeem(context.Background(), "NOSUCH", "Ada", "token"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestRegisterAndAuthenticate(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	ctx := context.Background()

	reg, err := svc.RegisterAgent(ctx, "crawler", strptr("a web crawler"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(reg.APIKey, rin.KeyPrefix) {
		t.Fatalf("key %q missing prefix", reg.APIKey)
	}
	if reg.Agent.APIKeyHash == reg.APIKey {
		t.Fatal("plaintext key must not be stored")
	}

	agent, err := svc.Authenticate(ctx, reg.APIKey)
	if err != nil {
		t.Fatal(err)
	}
	if agent.Name != "crawler" {
		t.Fatalf("authenticated as %q", agent.Name)
	}
	if agent.LastSeenAt == nil {
		t.Fatal("authenticate must update last_seen_at")
	}

	if _, err := svc.RegisterAgent(ctx, "crawler", nil); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("duplicate name: got %v, want ErrNameTaken", err)
	}
}

func TestAuthenticateRejectsMalformedAndUnknownKeys(t *testing.T) {
	svc := newTestService(t, newFakeStore())
	ctx := context.Background()

	for _, key := range []string{"", "missing-prefix", "rin_unknownkey"} {
		if _, err := svc.Authenticate(ctx, key); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("Authenticate(%q): got %v, want ErrUnauthorized", key, err)
		}
	}
}

func TestRotateKey(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	ctx := context.Background()

	reg, err := svc.RegisterAgent(ctx, "crawler", nil)
	if err != nil {
		t.Fatal(err)
	}

	newKey, err := svc.RotateKey(ctx, reg.Agent)
	if err != nil {
		t.Fatal(err)
	}
	if newKey == reg.APIKey {
		t.Fatal("rotation must produce a different key")
	}
	if _, err := svc.Authenticate(ctx, reg.APIKey); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("old key after rotation: got %v, want ErrUnauthorized", err)
	}
	if _, err := svc.Authenticate(ctx, newKey); err != nil {
		t.Fatalf("new key after rotation: %v", err)
	}
}

func TestRevokeAndReRegister(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	ctx := context.Background()

	reg, err := svc.RegisterAgent(ctx, "crawler", strptr("first life"))
	if err != nil {
		t.Fatal(err)
	}

	// Give the agent a profile so revocation has something to scrub.
	if _, err := svc.UpdateProfile(ctx, reg.Agent, ProfileUpdate{
		SetBio: true, Bio: strptr("hello"),
		SetAvatar: true, AvatarURL: strptr("https://i.imgur.com/me.png"),
	}); err != nil {
		t.Fatal(err)
	}

	if err := svc.RevokeKey(ctx, reg.Agent); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Authenticate(ctx, reg.APIKey); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("revoked key: got %v, want ErrUnauthorized", err)
	}

	stored, _ := fs.GetAgent(ctx, "crawler")
	if stored.Bio != nil || stored.AvatarURL != nil || stored.Links != nil {
		t.Fatal("revocation must scrub profile fields")
	}
	if stored.RevokedAt == nil {
		t.Fatal("revoked_at not set")
	}

	// Re-registration of the revoked name reuses the row.
	reg2, err := svc.RegisterAgent(ctx, "crawler", strptr("second life"))
	if err != nil {
		t.Fatalf("re-register after revoke: %v", err)
	}
	if reg2.APIKey == reg.APIKey {
		t.Fatal("re-registration must issue a fresh key")
	}
	if _, err := svc.Authenticate(ctx, reg2.APIKey); err != nil {
		t.Fatalf("fresh key: %v", err)
	}
	if _, err := svc.Authenticate(ctx, reg.APIKey); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("old key after re-registration: got %v, want ErrUnauthorized", err)
	}
}

func TestUpdateProfile(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	ctx := context.Background()

	reg, err := svc.RegisterAgent(ctx, "crawler", nil)
	if err != nil {
		t.Fatal(err)
	}

	profile, err := svc.UpdateProfile(ctx, reg.Agent, ProfileUpdate{
		SetBio: true, Bio: strptr("  I crawl the web  "),
		SetLinks: true, Links: map[string]string{"GitHub": "https://github.com/crawler"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if profile.Bio == nil || *profile.Bio != "I crawl the web" {
		t.Fatalf("bio = %v", profile.Bio)
	}
	if profile.Links["github"] != "https://github.com/crawler" {
		t.Fatalf("links = %v", profile.Links)
	}

	// Unset fields stay untouched.
	profile, err = svc.UpdateProfile(ctx, reg.Agent, ProfileUpdate{
		SetAvatar: true, AvatarURL: strptr("https://i.imgur.com/me.png"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if profile.Bio == nil || *profile.Bio != "I crawl the web" {
		t.Fatal("bio should survive an avatar-only update")
	}

	// A set field with a nil value clears it.
	profile, err = svc.UpdateProfile(ctx, reg.Agent, ProfileUpdate{SetBio: true})
	if err != nil {
		t.Fatal(err)
	}
	if profile.Bio != nil {
		t.Fatal("bio should be cleared")
	}

	if _, err := svc.UpdateProfile(ctx, reg.Agent, ProfileUpdate{
		SetAvatar: true, AvatarURL: strptr("http://10.0.0.5/x"),
	}); KindOf(err) != KindValidation {
		t.Fatalf("private avatar host: got %v, want validation error", err)
	}
}

func TestLookup(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	ctx := context.Background()

	reg, err := svc.RegisterAgent(ctx, "issuer", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.UpdateProfile(ctx, reg.Agent, ProfileUpdate{SetBio: true, Bio: strptr("I issue RINs")}); err != nil {
		t.Fatal(err)
	}

	issued, err := svc.Issue(ctx, "assistant", strptr("helper"), strptr("issuer"))
	if err != nil {
		t.Fatal(err)
	}

	view, err := svc.Lookup(ctx, issued.Entity.RIN)
	if err != nil {
		t.Fatal(err)
	}
	if view.ClaimedBy != nil {
		t.Fatal("claimed_by must be absent while unclaimed")
	}
	if view.Profile == nil || view.Profile.Bio == nil || *view.Profile.Bio != "I issue RINs" {
		t.Fatalf("issuer profile missing: %+v", view.Profile)
	}

	if _, err := svc.Redeem(ctx, issued.Entity.RIN, "Ada", issued.ClaimToken); err != nil {
		t.Fatal(err)
	}
	view, err = svc.Lookup(ctx, issued.Entity.RIN)
	if err != nil {
		t.Fatal(err)
	}
	if view.Status != models.StatusClaimed || view.ClaimedBy == nil || *view.ClaimedBy != "Ada" {
		t.Fatalf("claimed view wrong: %+v", view)
	}

	if _, err := svc.Lookup(ctx, "NOSUCH"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown rin: got %v, want ErrNotFound", err)
	}
}

func TestAggregateDay(t *testing.T) {
	fs := newFakeStore()
	day := time.Date(2026, 8, 29, 15, 0, 0, 0, time.UTC)
	svc := New(Config{
		Store:            fs,
		ClaimTokenPepper: "p1",
		APIKeyPepper:     "p2",
		Now:              func() time.Time { return day },
	})
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "assistant", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Issue(ctx, "assistant", nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Redeem(ctx, issued.Entity.RIN, "Ada", issued.ClaimToken); err != nil {
		t.Fatal(err)
	}

	stat, err := svc.AggregateDay(ctx, day)
	if err != nil {
		t.Fatal(err)
	}
	if stat.Day != "2026-08-29" {
		t.Fatalf("day = %q", stat.Day)
	}
	if stat.RegisterCount != 2 || stat.ClaimCount != 1 {
		t.Fatalf("counts = %d/%d, want 2/1", stat.RegisterCount, stat.ClaimCount)
	}
}

func TestRegisterRaceYieldsNameTaken(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	ctx := context.Background()

	if _, err := svc.RegisterAgent(ctx, "crawler", nil); err != nil {
		t.Fatal(err)
	}

	// A concurrent registration can slip in between the existence
	// check and the insert; the store's duplicate report must come
	// back as NameTaken, not an internal error.
	fs.missOnGet = 1
	if _, err := svc.RegisterAgent(ctx, "crawler", nil); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("raced registration: got %v, want ErrNameTaken", err)
	}
}
