package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trevvos-auth/internal/hash"
	"trevvos-auth/internal/model"
	"trevvos-auth/internal/token"
)

type fakeUsers struct {
	mu   sync.Mutex
	byID map[string]model.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[string]model.User{}}
}

func (f *fakeUsers) FindByID(_ context.Context, id string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return model.User{}, model.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUsers) FindByEmail(_ context.Context, email string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, model.ErrUserNotFound
}

func (f *fakeUsers) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := f.FindByEmail(ctx, email)
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (f *fakeUsers) Create(_ context.Context, u model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if existing.Email == u.Email {
			return model.ErrDuplicateEmail
		}
	}
	f.byID[u.ID] = u
	return nil
}

type fakeSessions struct {
	mu   sync.Mutex
	rows map[string]model.Session
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{rows: map[string]model.Session{}}
}

func (f *fakeSessions) Create(_ context.Context, s model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[s.ID] = s
	return nil
}

func (f *fakeSessions) FindActiveByLookup(_ context.Context, lookup string, now time.Time) (model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.rows {
		if s.TokenLookup == lookup && s.ExpiresAt.After(now) {
			return s, nil
		}
	}
	return model.Session{}, model.ErrInvalidRefreshToken
}

func (f *fakeSessions) FindByLookup(_ context.Context, lookup string) (model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.rows {
		if s.TokenLookup == lookup {
			return s, nil
		}
	}
	return model.Session{}, model.ErrInvalidRefreshToken
}

func (f *fakeSessions) ListActive(_ context.Context, now time.Time) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Session, 0)
	for _, s := range f.rows {
		if s.ExpiresAt.After(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSessions) ListAll(_ context.Context) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Session, 0)
	for _, s := range f.rows {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeSessions) ListActiveForUser(_ context.Context, userID string, now time.Time) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Session, 0)
	for _, s := range f.rows {
		if s.UserID == userID && s.ExpiresAt.After(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSessions) Delete(_ context.Context, id string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[id]; !ok {
		return 0, nil
	}
	delete(f.rows, id)
	return 1, nil
}

func (f *fakeSessions) DeleteAllForUser(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, s := range f.rows {
		if s.UserID == userID {
			delete(f.rows, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeSessions) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeSessions) expireAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, s := range f.rows {
		s.ExpiresAt = time.Now().UTC().Add(-time.Hour)
		f.rows[id] = s
	}
}

type fakeApps struct {
	memberships map[string][]model.AppMembership
}

func (f *fakeApps) RolesForUser(_ context.Context, userID string) (map[string]string, error) {
	apps := make(map[string]string)
	for _, m := range f.memberships[userID] {
		apps[m.Slug] = m.Role
	}
	return apps, nil
}

func (f *fakeApps) MembershipsForUser(_ context.Context, userID string) ([]model.AppMembership, error) {
	return f.memberships[userID], nil
}

func newTestService(t *testing.T) (*AuthService, *token.Issuer, *fakeUsers, *fakeSessions, *fakeApps) {
	t.Helper()

	issuer, err := token.NewIssuer("test-signing-secret", 15*time.Minute)
	require.NoError(t, err)

	users := newFakeUsers()
	sessions := newFakeSessions()
	apps := &fakeApps{memberships: map[string][]model.AppMembership{}}

	svc, err := NewAuthService(users, sessions, apps, issuer, 30*24*time.Hour)
	require.NoError(t, err)

	return svc, issuer, users, sessions, apps
}

func TestRegisterDuplicateEmail(t *testing.T) {
	t.Parallel()

	svc, _, _, _, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.Register(ctx, "a@x.com", "pw1", nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = svc.Register(ctx, "a@x.com", "completely-different-pw", nil)
	require.ErrorIs(t, err, model.ErrDuplicateEmail)
}

func TestRegisterNeverStoresPlaintext(t *testing.T) {
	t.Parallel()

	svc, _, users, _, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.Register(ctx, "a@x.com", "pw1", nil)
	require.NoError(t, err)

	stored, err := users.FindByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, stored.PasswordHash)
	assert.NotContains(t, *stored.PasswordHash, "pw1")
	assert.Equal(t, DefaultGlobalRole, stored.Role)
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	svc, _, users, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "a@x.com", "pw1", nil)
	require.NoError(t, err)

	// Account registered through an external identity method.
	require.NoError(t, users.Create(ctx, model.User{ID: "ext-1", Email: "sso@x.com", Role: "USER"}))

	tests := []struct {
		name     string
		email    string
		password string
		match    bool
	}{
		{name: "correct credentials", email: "a@x.com", password: "pw1", match: true},
		{name: "one character off", email: "a@x.com", password: "pw2", match: false},
		{name: "unknown email", email: "nobody@x.com", password: "pw1", match: false},
		{name: "passwordless account", email: "sso@x.com", password: "pw1", match: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, ok, err := svc.Authenticate(ctx, tt.email, tt.password)
			require.NoError(t, err)
			assert.Equal(t, tt.match, ok)
			if tt.match {
				assert.Equal(t, tt.email, user.Email)
			}
		})
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	t.Parallel()

	svc, _, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "a@x.com", "pw1", nil)
	require.NoError(t, err)

	_, err = svc.Login(ctx, "a@x.com", "wrong")
	require.ErrorIs(t, err, model.ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@x.com", "pw1")
	require.ErrorIs(t, err, model.ErrInvalidCredentials)
}

func TestIssueTokensCreatesDistinctSessions(t *testing.T) {
	t.Parallel()

	svc, _, _, sessions, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.Register(ctx, "a@x.com", "pw1", nil)
	require.NoError(t, err)

	first, err := svc.IssueTokens(ctx, id)
	require.NoError(t, err)
	second, err := svc.IssueTokens(ctx, id)
	require.NoError(t, err)

	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, 2, sessions.count())

	// Both refresh tokens are initially valid.
	_, err = svc.Rotate(ctx, first.RefreshToken)
	require.NoError(t, err)
	_, err = svc.Rotate(ctx, second.RefreshToken)
	require.NoError(t, err)
}

func TestRotateIsSingleUse(t *testing.T) {
	t.Parallel()

	svc, _, _, _, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.Register(ctx, "a@x.com", "pw1", nil)
	require.NoError(t, err)
	pair, err := svc.IssueTokens(ctx, id)
	require.NoError(t, err)

	_, err = svc.Rotate(ctx, pair.RefreshToken)
	require.NoError(t, err)

	_, err = svc.Rotate(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, model.ErrInvalidRefreshToken)
}

func TestRotatePreservesIdentity(t *testing.T) {
	t.Parallel()

	svc, issuer, _, _, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.Register(ctx, "a@x.com", "pw1", nil)
	require.NoError(t, err)
	pair, err := svc.IssueTokens(ctx, id)
	require.NoError(t, err)

	rotated, err := svc.Rotate(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)
	assert.Equal(t, id, rotated.User.ID)

	claims, err := issuer.ParseAccessToken(rotated.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, id, claims.UserID)
}

func TestExpiredSessionCannotRotateButCanLogOut(t *testing.T) {
	t.Parallel()

	svc, _, _, sessions, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.Register(ctx, "a@x.com", "pw1", nil)
	require.NoError(t, err)
	pair, err := svc.IssueTokens(ctx, id)
	require.NoError(t, err)

	sessions.expireAll()

	_, err = svc.Rotate(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, model.ErrInvalidRefreshToken)

	// Logout still matches the expired session and removes it.
	require.NoError(t, svc.Logout(ctx, pair.RefreshToken))
	assert.Equal(t, 0, sessions.count())
}

func TestLogoutIsIdempotent(t *testing.T) {
	t.Parallel()

	svc, _, _, sessions, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.Register(ctx, "a@x.com", "pw1", nil)
	require.NoError(t, err)
	pair, err := svc.IssueTokens(ctx, id)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, pair.RefreshToken))
	assert.Equal(t, 0, sessions.count())

	// Already logged out, unknown and malformed tokens all succeed quietly.
	require.NoError(t, svc.Logout(ctx, pair.RefreshToken))
	require.NoError(t, svc.Logout(ctx, "lookup-that-does-not-exist.secret"))
	require.NoError(t, svc.Logout(ctx, "not-even-a-refresh-token"))
	require.NoError(t, svc.Logout(ctx, ""))
}

func TestAppsClaimMirrorsRoleDirectory(t *testing.T) {
	t.Parallel()

	svc, issuer, _, _, apps := newTestService(t)
	ctx := context.Background()

	id, err := svc.Register(ctx, "a@x.com", "pw1", nil)
	require.NoError(t, err)
	apps.memberships[id] = []model.AppMembership{
		{Slug: "portal", Name: "Portal", Role: "OWNER"},
		{Slug: "kmone", Name: "KM One", Role: "ADMIN"},
	}

	pair, err := svc.IssueTokens(ctx, id)
	require.NoError(t, err)

	claims, err := issuer.ParseAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"portal": "OWNER", "kmone": "ADMIN"}, claims.Apps)
}

func TestConcurrentRotateExactlyOneWins(t *testing.T) {
	t.Parallel()

	svc, _, _, _, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.Register(ctx, "a@x.com", "pw1", nil)
	require.NoError(t, err)
	pair, err := svc.IssueTokens(ctx, id)
	require.NoError(t, err)

	const callers = 4
	results := make(chan error, callers)
	var start sync.WaitGroup
	start.Add(1)

	for i := 0; i < callers; i++ {
		go func() {
			start.Wait()
			_, err := svc.Rotate(ctx, pair.RefreshToken)
			results <- err
		}()
	}
	start.Done()

	var wins, losses int
	for i := 0; i < callers; i++ {
		err := <-results
		if err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, model.ErrInvalidRefreshToken)
			losses++
		}
	}

	assert.Equal(t, 1, wins)
	assert.Equal(t, callers-1, losses)
}

func TestRotateCorruptStoredHash(t *testing.T) {
	t.Parallel()

	svc, _, _, sessions, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.Register(ctx, "a@x.com", "pw1", nil)
	require.NoError(t, err)
	pair, err := svc.IssueTokens(ctx, id)
	require.NoError(t, err)

	sessions.mu.Lock()
	for sid, s := range sessions.rows {
		s.RefreshHash = "garbled"
		sessions.rows[sid] = s
	}
	sessions.mu.Unlock()

	_, err = svc.Rotate(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, model.ErrCorruptCredential)
}

func TestMeListsAppMemberships(t *testing.T) {
	t.Parallel()

	svc, _, _, _, apps := newTestService(t)
	ctx := context.Background()

	name := "Alice"
	id, err := svc.Register(ctx, "a@x.com", "pw1", &name)
	require.NoError(t, err)
	apps.memberships[id] = []model.AppMembership{
		{Slug: "portal", Name: "Portal", Role: "OWNER"},
	}

	profile, err := svc.Me(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", profile.User.Email)
	require.NotNil(t, profile.User.Name)
	assert.Equal(t, "Alice", *profile.User.Name)
	require.Len(t, profile.Apps, 1)
	assert.Equal(t, model.AppMembership{Slug: "portal", Name: "Portal", Role: "OWNER"}, profile.Apps[0])
}

func TestRevokeAllAndSessionListing(t *testing.T) {
	t.Parallel()

	svc, _, _, _, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.Register(ctx, "a@x.com", "pw1", nil)
	require.NoError(t, err)
	_, err = svc.IssueTokens(ctx, id)
	require.NoError(t, err)
	_, err = svc.IssueTokens(ctx, id)
	require.NoError(t, err)

	active, err := svc.Sessions(ctx, id)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	revoked, err := svc.RevokeAll(ctx, id)
	require.NoError(t, err)
	assert.EqualValues(t, 2, revoked)

	active, err = svc.Sessions(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestEndToEndRotationChain(t *testing.T) {
	t.Parallel()

	svc, _, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "a@x.com", "pw1", nil)
	require.NoError(t, err)

	first, err := svc.Login(ctx, "a@x.com", "pw1")
	require.NoError(t, err)

	second, err := svc.Rotate(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = svc.Rotate(ctx, first.RefreshToken)
	require.ErrorIs(t, err, model.ErrInvalidRefreshToken)

	_, err = svc.Rotate(ctx, second.RefreshToken)
	require.NoError(t, err)
}

func TestLogoutLegacyTokenScan(t *testing.T) {
	t.Parallel()

	svc, _, _, sessions, _ := newTestService(t)
	ctx := context.Background()

	// A pre-rotation-format session: the whole plaintext was hashed and no
	// lookup column exists.
	legacyPlaintext := "legacy-opaque-refresh-token-without-separator"
	digest, err := hash.Hash(legacyPlaintext)
	require.NoError(t, err)
	require.NoError(t, sessions.Create(ctx, model.Session{
		ID:          "legacy-1",
		UserID:      "user-1",
		RefreshHash: digest,
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
		CreatedAt:   time.Now().UTC(),
	}))
	otherDigest, err := hash.Hash("some-other-legacy-token")
	require.NoError(t, err)
	require.NoError(t, sessions.Create(ctx, model.Session{
		ID:          "legacy-2",
		UserID:      "user-2",
		RefreshHash: otherDigest,
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
		CreatedAt:   time.Now().UTC(),
	}))

	require.NoError(t, svc.Logout(ctx, legacyPlaintext))
	assert.Equal(t, 1, sessions.count())

	// Unknown legacy token: still succeeds, nothing else is revoked.
	require.NoError(t, svc.Logout(ctx, "never-issued-token"))
	assert.Equal(t, 1, sessions.count())
}
