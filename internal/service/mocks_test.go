package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/campusprint/platform/internal/domain"
	"github.com/campusprint/platform/internal/oauth"
	"github.com/campusprint/platform/pkg/config"
)

// ---------- Mocks ----------

type mockUserRepo struct {
	mu          sync.Mutex
	nextID      int64
	users       map[int64]*domain.User
	googleSubs  map[string]int64
	backupCodes map[int64][]string
	consumed    map[int64][]string
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{
		nextID:      1,
		users:       make(map[int64]*domain.User),
		googleSubs:  make(map[string]int64),
		backupCodes: make(map[int64][]string),
		consumed:    make(map[int64][]string),
	}
}

func (m *mockUserRepo) Create(_ context.Context, req *domain.CreateUserRequest) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if req.Phone != nil && u.Phone != nil && *u.Phone == *req.Phone {
			return nil, domain.ErrConflict
		}
		if req.Email != nil && u.Email != nil && strings.EqualFold(*u.Email, *req.Email) {
			return nil, domain.ErrConflict
		}
	}
	user := &domain.User{
		ID:         m.nextID,
		Role:       req.Role,
		Phone:      req.Phone,
		Email:      req.Email,
		Name:       req.Name,
		College:    req.College,
		AuthMethod: req.AuthMethod,
		OTPChannel: domain.ChannelSMS,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if req.Password != "" {
		user.PasswordHash = &req.Password
	}
	m.nextID++
	m.users[user.ID] = user
	return user, nil
}

func (m *mockUserRepo) FindByID(_ context.Context, id int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id], nil
}

func (m *mockUserRepo) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email != nil && strings.EqualFold(*u.Email, email) {
			return u, nil
		}
	}
	return nil, nil
}

func (m *mockUserRepo) FindByPhone(_ context.Context, phone string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Phone != nil && *u.Phone == phone {
			return u, nil
		}
	}
	return nil, nil
}

func (m *mockUserRepo) SetPassword(_ context.Context, userID int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.PasswordHash = &hash
	}
	return nil
}

func (m *mockUserRepo) SetAuthMethod(_ context.Context, userID int64, method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.AuthMethod = method
	}
	return nil
}

func (m *mockUserRepo) UpdateOTPSettings(_ context.Context, userID int64, settings domain.OTPSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.OTPEnabled = settings.Enabled
		u.OTPChannel = settings.Channel
	}
	return nil
}

func (m *mockUserRepo) LinkGoogle(_ context.Context, userID int64, googleSub string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.googleSubs[googleSub] = userID
	return nil
}

func (m *mockUserRepo) FindByGoogleSub(_ context.Context, googleSub string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.googleSubs[googleSub]; ok {
		return m.users[id], nil
	}
	return nil, nil
}

func (m *mockUserRepo) ReplaceBackupCodes(_ context.Context, userID int64, hashes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backupCodes[userID] = append([]string(nil), hashes...)
	m.consumed[userID] = nil
	return nil
}

func (m *mockUserRepo) BackupCodeHashes(_ context.Context, userID int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.backupCodes[userID]...), nil
}

func (m *mockUserRepo) ConsumeBackupCode(_ context.Context, userID int64, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, h := range m.backupCodes[userID] {
		if h == hash {
			m.backupCodes[userID] = append(m.backupCodes[userID][:i], m.backupCodes[userID][i+1:]...)
			m.consumed[userID] = append(m.consumed[userID], hash)
			return true, nil
		}
	}
	return false, nil
}

type otpRecord struct {
	code      string
	channel   string
	attempts  int
	verified  bool
	expiresAt time.Time
}

type mockOtpRepo struct {
	mu         sync.Mutex
	challenges map[string]*otpRecord
}

func newMockOtpRepo() *mockOtpRepo {
	return &mockOtpRepo{challenges: make(map[string]*otpRecord)}
}

func (m *mockOtpRepo) Upsert(_ context.Context, c *domain.OtpChallenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.challenges[c.Target] = &otpRecord{
		code:      c.Code,
		channel:   c.Channel,
		expiresAt: c.ExpiresAt,
	}
	return nil
}

func (m *mockOtpRepo) VerifyAndConsume(_ context.Context, target, code string, maxAttempts int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.challenges[target]
	if !ok || rec.verified || rec.code != code || rec.attempts >= maxAttempts || time.Now().After(rec.expiresAt) {
		return false, nil
	}
	rec.verified = true
	return true, nil
}

func (m *mockOtpRepo) RecordFailedAttempt(_ context.Context, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.challenges[target]; ok {
		rec.attempts++
	}
	return nil
}

func (m *mockOtpRepo) DeleteExpired(context.Context) (int64, error) { return 0, nil }

// storedCode exposes the live code for a target, the way a user would read
// it off their phone.
func (m *mockOtpRepo) storedCode(target string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.challenges[target]; ok {
		return rec.code
	}
	return ""
}

type mockRefreshRepo struct {
	mu     sync.Mutex
	tokens map[string]int64 // token -> user_id
	expiry map[string]time.Time
}

func newMockRefreshRepo() *mockRefreshRepo {
	return &mockRefreshRepo{
		tokens: make(map[string]int64),
		expiry: make(map[string]time.Time),
	}
}

func (m *mockRefreshRepo) Create(_ context.Context, userID int64, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = userID
	m.expiry[token] = expiresAt
	return nil
}

func (m *mockRefreshRepo) Rotate(_ context.Context, oldToken, newToken string, expiresAt time.Time) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.tokens[oldToken]
	if !ok || time.Now().After(m.expiry[oldToken]) {
		return 0, false, nil
	}
	delete(m.tokens, oldToken)
	delete(m.expiry, oldToken)
	m.tokens[newToken] = userID
	m.expiry[newToken] = expiresAt
	return userID, true, nil
}

func (m *mockRefreshRepo) DeleteByToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, token)
	return nil
}

func (m *mockRefreshRepo) DeleteForUser(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for t, id := range m.tokens {
		if id == userID {
			delete(m.tokens, t)
		}
	}
	return nil
}

func (m *mockRefreshRepo) DeleteExpired(context.Context) (int64, error) { return 0, nil }

type mockPasskeyRepo struct {
	mu    sync.Mutex
	creds map[string]*domain.PasskeyCredential
}

func newMockPasskeyRepo() *mockPasskeyRepo {
	return &mockPasskeyRepo{creds: make(map[string]*domain.PasskeyCredential)}
}

func (m *mockPasskeyRepo) Create(_ context.Context, cred *domain.PasskeyCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.creds[cred.CredentialID]; exists {
		return domain.ErrConflict
	}
	copied := *cred
	m.creds[cred.CredentialID] = &copied
	return nil
}

func (m *mockPasskeyRepo) FindByCredentialID(_ context.Context, credentialID string) (*domain.PasskeyCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds[credentialID], nil
}

func (m *mockPasskeyRepo) ListByUser(_ context.Context, userID int64) ([]domain.PasskeyCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PasskeyCredential
	for _, c := range m.creds {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *mockPasskeyRepo) CountByUser(ctx context.Context, userID int64) (int, error) {
	creds, _ := m.ListByUser(ctx, userID)
	return len(creds), nil
}

func (m *mockPasskeyRepo) AdvanceSignCount(_ context.Context, credentialID string, signCount uint32, usedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.creds[credentialID]
	if !ok || cred.SignCount >= signCount {
		return false, nil
	}
	cred.SignCount = signCount
	cred.LastUsedAt = &usedAt
	return true, nil
}

func (m *mockPasskeyRepo) TouchLastUsed(_ context.Context, credentialID string, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cred, ok := m.creds[credentialID]; ok {
		cred.LastUsedAt = &usedAt
	}
	return nil
}

func (m *mockPasskeyRepo) Delete(_ context.Context, credentialID string, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.creds[credentialID]
	if !ok || cred.UserID != userID {
		return domain.ErrCredentialNotFound
	}
	delete(m.creds, credentialID)
	return nil
}

type mockRegRepo struct {
	mu       sync.Mutex
	pending  map[string]*domain.PendingPartnerRegistration // phone -> pending
	tokens   map[string]*domain.EmailVerificationToken     // token -> record
	userRepo *mockUserRepo
	nextShop int64
}

func newMockRegRepo(users *mockUserRepo) *mockRegRepo {
	return &mockRegRepo{
		pending:  make(map[string]*domain.PendingPartnerRegistration),
		tokens:   make(map[string]*domain.EmailVerificationToken),
		userRepo: users,
		nextShop: 1,
	}
}

func (m *mockRegRepo) CreatePending(_ context.Context, p *domain.PendingPartnerRegistration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for phone, existing := range m.pending {
		if existing.Email == p.Email || phone == p.Phone {
			delete(m.pending, phone)
		}
	}
	copied := *p
	m.pending[p.Phone] = &copied
	return nil
}

func (m *mockRegRepo) FindPendingByPhone(_ context.Context, phone string) (*domain.PendingPartnerRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending[phone], nil
}

func (m *mockRegRepo) MarkPhoneVerified(_ context.Context, phone, emailToken string) (*domain.PendingPartnerRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[phone]
	if !ok || p.PhoneVerified || time.Now().After(p.ExpiresAt) {
		return nil, nil
	}
	p.PhoneVerified = true
	p.EmailToken = &emailToken
	return p, nil
}

func (m *mockRegRepo) CreateEmailToken(_ context.Context, token *domain.EmailVerificationToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *token
	m.tokens[token.Token] = &copied
	return nil
}

func (m *mockRegRepo) Complete(ctx context.Context, emailToken string, now time.Time) (*domain.User, *domain.Shop, error) {
	m.mu.Lock()
	rec, ok := m.tokens[emailToken]
	if !ok || rec.Verified || now.After(rec.ExpiresAt) {
		m.mu.Unlock()
		return nil, nil, domain.ErrInvalidOrExpiredLink
	}
	var found *domain.PendingPartnerRegistration
	for _, p := range m.pending {
		if p.EmailToken != nil && *p.EmailToken == emailToken && p.PhoneVerified {
			found = p
			break
		}
	}
	if found == nil {
		m.mu.Unlock()
		return nil, nil, domain.ErrInvalidOrExpiredLink
	}
	if found.Expired(now) {
		m.mu.Unlock()
		return nil, nil, domain.ErrRegistrationExpired
	}
	rec.Verified = true
	delete(m.pending, found.Phone)
	shopID := m.nextShop
	m.nextShop++
	m.mu.Unlock()

	email := found.Email
	phone := found.Phone
	user, err := m.userRepo.Create(ctx, &domain.CreateUserRequest{
		Role:       domain.RoleShop,
		Phone:      &phone,
		Email:      &email,
		Password:   found.PasswordHash,
		Name:       found.OwnerName,
		AuthMethod: domain.AuthMethodPassword,
	})
	if err != nil {
		return nil, nil, err
	}
	shop := &domain.Shop{
		ID:        shopID,
		OwnerID:   user.ID,
		Name:      found.Shop.Name,
		Address:   found.Shop.Address,
		Latitude:  found.Shop.Latitude,
		Longitude: found.Shop.Longitude,
		CreatedAt: now,
	}
	return user, shop, nil
}

func (m *mockRegRepo) DeleteExpiredPending(context.Context) (int64, error) { return 0, nil }

type memoryCeremonyStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryCeremonyStore() *memoryCeremonyStore {
	return &memoryCeremonyStore{data: make(map[string][]byte)}
}

func (m *memoryCeremonyStore) Put(_ context.Context, key string, data []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return nil
}

func (m *memoryCeremonyStore) Take(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	delete(m.data, key)
	return data, true, nil
}

func (m *memoryCeremonyStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type mockMailer struct {
	mu        sync.Mutex
	otpEmails []string
	lastCode  string
	lastLink  string
	sendErr   error
}

func (m *mockMailer) SendOTPEmail(toEmail, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.otpEmails = append(m.otpEmails, toEmail)
	m.lastCode = code
	return nil
}

func (m *mockMailer) SendMagicLinkEmail(toEmail, _, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.otpEmails = append(m.otpEmails, toEmail)
	m.lastLink = link
	return nil
}

type mockSMS struct {
	mu      sync.Mutex
	sent    []string
	lastOTP string
	sendErr error
}

func (m *mockSMS) SendOTP(_ context.Context, phone, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, phone)
	m.lastOTP = code
	return nil
}

type publishedEvent struct {
	subject string
	data    interface{}
}

type mockEventBus struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (m *mockEventBus) Publish(_ context.Context, subject string, data interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, publishedEvent{subject: subject, data: data})
	return nil
}

func (m *mockEventBus) Close() error { return nil }

func (m *mockEventBus) countSubject(subject string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.subject == subject {
			n++
		}
	}
	return n
}

type mockGoogleVerifier struct {
	profiles map[string]*oauth.GoogleProfile
}

func (m *mockGoogleVerifier) Verify(_ context.Context, idToken string) (*oauth.GoogleProfile, error) {
	if p, ok := m.profiles[idToken]; ok {
		return p, nil
	}
	return nil, domain.ErrUnauthorized
}

// ---------- Test config ----------

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			FrontendURL: "http://localhost:5173",
		},
		Auth: config.AuthConfig{
			JWTSecret:       "test-secret",
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 7 * 24 * time.Hour,
			RegistrationTTL: 30 * time.Minute,
			EmailTokenTTL:   15 * time.Minute,
		},
		OTP: config.OTPConfig{
			TTL:         5 * time.Minute,
			MaxAttempts: 5,
		},
		WebAuthn: config.WebAuthnConfig{
			RPDisplayName: "CampusPrint",
			RPID:          "localhost",
			RPOrigins:     []string{"http://localhost:5173"},
			SessionTTL:    5 * time.Minute,
		},
	}
}
