package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"trevvos-auth/internal/hash"
	"trevvos-auth/internal/model"
	"trevvos-auth/internal/token"
)

// DefaultGlobalRole is assigned to freshly registered users until an
// app-specific role is granted.
const DefaultGlobalRole = "USER"

type userStore interface {
	FindByID(ctx context.Context, id string) (model.User, error)
	FindByEmail(ctx context.Context, email string) (model.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, u model.User) error
}

type sessionStore interface {
	Create(ctx context.Context, s model.Session) error
	FindActiveByLookup(ctx context.Context, lookup string, now time.Time) (model.Session, error)
	FindByLookup(ctx context.Context, lookup string) (model.Session, error)
	ListActive(ctx context.Context, now time.Time) ([]model.Session, error)
	ListAll(ctx context.Context) ([]model.Session, error)
	ListActiveForUser(ctx context.Context, userID string, now time.Time) ([]model.Session, error)
	Delete(ctx context.Context, id string) (int64, error)
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
}

type roleDirectory interface {
	RolesForUser(ctx context.Context, userID string) (map[string]string, error)
	MembershipsForUser(ctx context.Context, userID string) ([]model.AppMembership, error)
}

// AuthService orchestrates the credential lifecycle: registration, password
// validation, token issuance, refresh rotation and revocation.
type AuthService struct {
	users      userStore
	sessions   sessionStore
	apps       roleDirectory
	issuer     *token.Issuer
	refreshTTL time.Duration
	now        func() time.Time

	// dummyDigest is verified against when a login targets an unknown or
	// passwordless account, so both outcomes pay the same bcrypt cost.
	dummyDigest string
}

func NewAuthService(users userStore, sessions sessionStore, apps roleDirectory, issuer *token.Issuer, refreshTTL time.Duration) (*AuthService, error) {
	if users == nil || sessions == nil || apps == nil {
		return nil, errors.New("auth service: all stores are required")
	}
	if issuer == nil {
		return nil, errors.New("auth service: token issuer is required")
	}
	if refreshTTL <= 0 {
		return nil, errors.New("auth service: refresh TTL must be positive")
	}

	dummy, err := hash.Hash("timing-equalization-pad")
	if err != nil {
		return nil, fmt.Errorf("auth service: prepare dummy digest: %w", err)
	}

	return &AuthService{
		users:       users,
		sessions:    sessions,
		apps:        apps,
		issuer:      issuer,
		refreshTTL:  refreshTTL,
		now:         time.Now,
		dummyDigest: dummy,
	}, nil
}

// Register creates a global account and returns its id. The plaintext
// password is hashed before anything is persisted and never logged.
func (s *AuthService) Register(ctx context.Context, email string, password string, name *string) (string, error) {
	if email == "" || password == "" {
		return "", fmt.Errorf("%w: email and password are required", model.ErrInvalidInput)
	}

	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if exists {
		return "", model.ErrDuplicateEmail
	}

	digest, err := hash.Hash(password)
	if err != nil {
		return "", err
	}

	now := s.now().UTC()
	user := model.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: &digest,
		Name:         name,
		Role:         DefaultGlobalRole,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return "", err
	}

	return user.ID, nil
}

// Authenticate validates a password against the stored hash. The second
// return value reports a match; an unknown email, a passwordless account and
// a wrong password are all the same non-match, and every path performs
// exactly one bcrypt comparison so response timing does not reveal which half
// was wrong.
func (s *AuthService) Authenticate(ctx context.Context, email string, password string) (model.User, bool, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, model.ErrUserNotFound) || (err == nil && user.PasswordHash == nil) {
		_, _ = hash.Verify(password, s.dummyDigest)
		return model.User{}, false, nil
	}
	if err != nil {
		return model.User{}, false, err
	}

	ok, err := hash.Verify(password, *user.PasswordHash)
	if err != nil {
		return model.User{}, false, err
	}
	if !ok {
		return model.User{}, false, nil
	}

	return user, true, nil
}

// Login is the full authentication operation: password check plus token
// issuance.
func (s *AuthService) Login(ctx context.Context, email string, password string) (model.TokenPair, error) {
	user, ok, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return model.TokenPair{}, err
	}
	if !ok {
		return model.TokenPair{}, model.ErrInvalidCredentials
	}

	return s.IssueTokens(ctx, user.ID)
}

// IssueTokens mints an access token with the user's current per-app roles and
// opens a new refresh session. The plaintext refresh secret exists only in
// the returned pair.
func (s *AuthService) IssueTokens(ctx context.Context, userID string) (model.TokenPair, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return model.TokenPair{}, err
	}

	apps, err := s.apps.RolesForUser(ctx, user.ID)
	if err != nil {
		return model.TokenPair{}, err
	}

	accessToken, err := s.issuer.SignAccessToken(user, apps)
	if err != nil {
		return model.TokenPair{}, err
	}

	refresh, err := token.NewRefreshSecret()
	if err != nil {
		return model.TokenPair{}, err
	}

	digest, err := hash.Hash(refresh.Secret)
	if err != nil {
		return model.TokenPair{}, err
	}

	now := s.now().UTC()
	session := model.Session{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		TokenLookup: refresh.Lookup,
		RefreshHash: digest,
		ExpiresAt:   now.Add(s.refreshTTL),
		CreatedAt:   now,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return model.TokenPair{}, err
	}

	return model.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refresh.String(),
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.issuer.AccessTTL().Seconds()),
		User:         user.Public(),
	}, nil
}

// Rotate redeems a refresh token exactly once: the matched session is
// deleted, then a fresh pair is issued for its owner. The delete must be
// confirmed before new credentials exist, so a crash in between leaves zero
// valid sessions for this rotation, never two. When concurrent calls present
// the same token, the session row disappears exactly once and the losers see
// a zero delete count.
func (s *AuthService) Rotate(ctx context.Context, presented string) (model.TokenPair, error) {
	lookup, secret, err := token.SplitRefreshToken(presented)
	if err != nil {
		return model.TokenPair{}, model.ErrInvalidRefreshToken
	}

	session, err := s.sessions.FindActiveByLookup(ctx, lookup, s.now().UTC())
	if err != nil {
		return model.TokenPair{}, err
	}

	ok, err := hash.Verify(secret, session.RefreshHash)
	if err != nil {
		return model.TokenPair{}, err
	}
	if !ok {
		return model.TokenPair{}, model.ErrInvalidRefreshToken
	}

	deleted, err := s.sessions.Delete(ctx, session.ID)
	if err != nil {
		return model.TokenPair{}, err
	}
	if deleted == 0 {
		return model.TokenPair{}, model.ErrInvalidRefreshToken
	}

	return s.IssueTokens(ctx, session.UserID)
}

// Logout revokes the session backing the presented refresh token. Expired
// sessions are matched too, so a client can always log out. It never reports
// whether anything matched: unknown, malformed and already-revoked tokens all
// succeed.
func (s *AuthService) Logout(ctx context.Context, presented string) error {
	if presented == "" {
		return nil
	}

	lookup, secret, err := token.SplitRefreshToken(presented)
	if err != nil {
		// Tokens minted before the lookup.secret format carry no
		// correlation id and can only be matched by scanning.
		return s.logoutByScan(ctx, presented)
	}

	session, err := s.sessions.FindByLookup(ctx, lookup)
	if errors.Is(err, model.ErrInvalidRefreshToken) {
		return nil
	}
	if err != nil {
		return err
	}

	ok, err := hash.Verify(secret, session.RefreshHash)
	if errors.Is(err, model.ErrCorruptCredential) {
		// Integrity failure: revoke the unusable session anyway.
		slog.Error("corrupt refresh hash encountered during logout", "session_id", session.ID)
		ok = true
	} else if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if _, err := s.sessions.Delete(ctx, session.ID); err != nil {
		return err
	}
	return nil
}

// logoutByScan checks the presented plaintext against every stored digest,
// expired sessions included, and revokes the first match. Unreadable digests
// are skipped; they cannot belong to the presented token anyway.
func (s *AuthService) logoutByScan(ctx context.Context, presented string) error {
	sessions, err := s.sessions.ListAll(ctx)
	if err != nil {
		return err
	}

	for _, sess := range sessions {
		ok, err := hash.Verify(presented, sess.RefreshHash)
		if err != nil || !ok {
			continue
		}

		if _, err := s.sessions.Delete(ctx, sess.ID); err != nil {
			return err
		}
		return nil
	}
	return nil
}

// Me returns the user's public profile and every application role they hold.
func (s *AuthService) Me(ctx context.Context, userID string) (model.Profile, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return model.Profile{}, err
	}

	memberships, err := s.apps.MembershipsForUser(ctx, user.ID)
	if err != nil {
		return model.Profile{}, err
	}

	return model.Profile{User: user.Public(), Apps: memberships}, nil
}

// Sessions lists the caller's active sessions.
func (s *AuthService) Sessions(ctx context.Context, userID string) ([]model.SessionInfo, error) {
	sessions, err := s.sessions.ListActiveForUser(ctx, userID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	return toSessionInfos(sessions), nil
}

// AllSessions lists every outstanding session, optionally including expired
// rows that have not been revoked yet. Admin-only at the transport layer.
func (s *AuthService) AllSessions(ctx context.Context, includeExpired bool) ([]model.SessionInfo, error) {
	var (
		sessions []model.Session
		err      error
	)
	if includeExpired {
		sessions, err = s.sessions.ListAll(ctx)
	} else {
		sessions, err = s.sessions.ListActive(ctx, s.now().UTC())
	}
	if err != nil {
		return nil, err
	}
	return toSessionInfos(sessions), nil
}

// RevokeAll deletes every session the user owns and reports how many were
// removed.
func (s *AuthService) RevokeAll(ctx context.Context, userID string) (int64, error) {
	return s.sessions.DeleteAllForUser(ctx, userID)
}

func toSessionInfos(sessions []model.Session) []model.SessionInfo {
	infos := make([]model.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, model.SessionInfo{
			ID:        s.ID,
			UserID:    s.UserID,
			ExpiresAt: s.ExpiresAt,
			CreatedAt: s.CreatedAt,
		})
	}
	return infos
}
