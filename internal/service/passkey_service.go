package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/campusprint/platform/internal/domain"
	"github.com/campusprint/platform/internal/repository"
	"github.com/campusprint/platform/pkg/config"
	"github.com/campusprint/platform/pkg/events"
	"github.com/campusprint/platform/pkg/logger"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// PasskeyService runs WebAuthn registration and authentication ceremonies.
// Ceremony state lives in the ceremony store under a TTL; every session is
// single-use.
type PasskeyService interface {
	BeginRegistration(ctx context.Context, userID int64) (*protocol.CredentialCreation, error)
	FinishRegistration(ctx context.Context, userID int64, response []byte) (*domain.PasskeyInfo, error)

	// BeginAuthentication with a phone scopes the allow-list to that user's
	// credentials. With an empty phone it starts a discoverable flow keyed
	// by the challenge value itself.
	BeginAuthentication(ctx context.Context, phone string) (*protocol.CredentialAssertion, error)
	FinishAuthentication(ctx context.Context, phone string, response []byte) (*domain.TokenPairResponse, error)

	List(ctx context.Context, userID int64) ([]domain.PasskeyInfo, error)
	Remove(ctx context.Context, userID int64, credentialID string) error
}

// ceremonyProvider is the slice of *webauthn.WebAuthn the service uses,
// split out so tests can substitute the cryptographic verification.
type ceremonyProvider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
	ValidateDiscoverableLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

type responseParser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type protocolParser struct{}

func (protocolParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (protocolParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

type passkeyService struct {
	provider     ceremonyProvider
	parser       responseParser
	passkeyRepo  repository.PasskeyRepository
	userRepo     repository.UserRepository
	ceremonies   repository.CeremonyStore
	tokenService TokenService
	eventBus     events.Publisher
	cfg          *config.Config
}

func NewPasskeyService(
	passkeyRepo repository.PasskeyRepository,
	userRepo repository.UserRepository,
	ceremonies repository.CeremonyStore,
	tokenService TokenService,
	eventBus events.Publisher,
	cfg *config.Config,
) (PasskeyService, error) {
	webAuthn, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.WebAuthn.RPDisplayName,
		RPID:          cfg.WebAuthn.RPID,
		RPOrigins:     cfg.WebAuthn.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure webauthn: %w", err)
	}

	return &passkeyService{
		provider:     webAuthn,
		parser:       protocolParser{},
		passkeyRepo:  passkeyRepo,
		userRepo:     userRepo,
		ceremonies:   ceremonies,
		tokenService: tokenService,
		eventBus:     eventBus,
		cfg:          cfg,
	}, nil
}

// passkeyUser adapts a domain user and their stored credentials to the
// webauthn.User interface.
type passkeyUser struct {
	user  *domain.User
	creds []webauthn.Credential
}

func (u *passkeyUser) WebAuthnID() []byte {
	return []byte(strconv.FormatInt(u.user.ID, 10))
}

func (u *passkeyUser) WebAuthnName() string {
	if u.user.Phone != nil {
		return *u.user.Phone
	}
	if u.user.Email != nil {
		return *u.user.Email
	}
	return u.user.Name
}

func (u *passkeyUser) WebAuthnDisplayName() string {
	return u.user.Name
}

func (u *passkeyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.creds
}

func (s *passkeyService) loadPasskeyUser(ctx context.Context, user *domain.User) (*passkeyUser, error) {
	stored, err := s.passkeyRepo.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	creds := make([]webauthn.Credential, 0, len(stored))
	for _, rec := range stored {
		cred, err := toWebAuthnCredential(&rec)
		if err != nil {
			return nil, err
		}
		creds = append(creds, *cred)
	}
	return &passkeyUser{user: user, creds: creds}, nil
}

func toWebAuthnCredential(rec *domain.PasskeyCredential) (*webauthn.Credential, error) {
	rawID, err := base64.RawURLEncoding.DecodeString(rec.CredentialID)
	if err != nil {
		return nil, fmt.Errorf("decode credential id %s: %w", rec.CredentialID, err)
	}
	transports := make([]protocol.AuthenticatorTransport, 0, len(rec.Transports))
	for _, t := range rec.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}
	return &webauthn.Credential{
		ID:        rawID,
		PublicKey: rec.PublicKey,
		Transport: transports,
		Authenticator: webauthn.Authenticator{
			SignCount: rec.SignCount,
		},
	}, nil
}

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

const (
	registrationKeyPrefix = "reg:"
	loginUserKeyPrefix    = "login:user:"
	loginChallengePrefix  = "login:chal:"
)

func (s *passkeyService) BeginRegistration(ctx context.Context, userID int64) (*protocol.CredentialCreation, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, domain.ErrUnauthorized
	}

	pUser, err := s.loadPasskeyUser(ctx, user)
	if err != nil {
		return nil, err
	}

	opts := []webauthn.RegistrationOption{
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementPreferred,
			UserVerification: protocol.VerificationPreferred,
		}),
	}
	// Exclude already-registered authenticators from the ceremony.
	if len(pUser.creds) > 0 {
		opts = append(opts, webauthn.WithExclusions(webauthn.Credentials(pUser.creds).CredentialDescriptors()))
	}

	creation, session, err := s.provider.BeginRegistration(pUser, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to begin registration: %w", err)
	}

	if err := s.storeSession(ctx, registrationKeyPrefix+strconv.FormatInt(userID, 10), session); err != nil {
		return nil, err
	}
	return creation, nil
}

func (s *passkeyService) FinishRegistration(ctx context.Context, userID int64, response []byte) (*domain.PasskeyInfo, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, domain.ErrUnauthorized
	}

	session, err := s.takeSession(ctx, registrationKeyPrefix+strconv.FormatInt(userID, 10))
	if err != nil {
		return nil, err
	}

	parsed, err := s.parser.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return nil, domain.WrapError(domain.KindValidation, "malformed credential response", err)
	}

	pUser, err := s.loadPasskeyUser(ctx, user)
	if err != nil {
		return nil, err
	}

	credential, err := s.provider.CreateCredential(pUser, *session, parsed)
	if err != nil {
		return nil, domain.WrapError(domain.KindUnauthorized, "attestation verification failed", err)
	}

	transports := make([]string, 0, len(credential.Transport))
	for _, t := range credential.Transport {
		transports = append(transports, string(t))
	}
	deviceType := "single-device"
	if credential.Flags.BackupEligible {
		deviceType = "multi-device"
	}

	rec := &domain.PasskeyCredential{
		CredentialID: encodeCredentialID(credential.ID),
		UserID:       user.ID,
		PublicKey:    credential.PublicKey,
		SignCount:    credential.Authenticator.SignCount,
		DeviceType:   deviceType,
		BackedUp:     credential.Flags.BackupState,
		Transports:   transports,
	}
	if err := s.passkeyRepo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}

	// First credential flips the identity over to passkey auth.
	if len(pUser.creds) == 0 {
		if err := s.userRepo.SetAuthMethod(ctx, user.ID, domain.AuthMethodPasskey); err != nil {
			logger.WarnContext(ctx, "Failed to update auth method", "error", err, "user_id", user.ID)
		}
	}

	if err := s.eventBus.Publish(ctx, events.PasskeyAdded, events.PasskeyEvent{
		UserID:       user.ID,
		CredentialID: rec.CredentialID,
		OccurredAt:   time.Now(),
	}); err != nil {
		logger.WarnContext(ctx, "Failed to publish passkey event", "error", err)
	}

	rec.CreatedAt = time.Now()
	return rec.ToInfo(), nil
}

func (s *passkeyService) BeginAuthentication(ctx context.Context, phone string) (*protocol.CredentialAssertion, error) {
	if phone == "" {
		// Discoverable flow: no allow-list, session keyed by the challenge
		// value so the finish half can find it from the response alone.
		assertion, session, err := s.provider.BeginDiscoverableLogin()
		if err != nil {
			return nil, fmt.Errorf("failed to begin discoverable login: %w", err)
		}
		if err := s.storeSession(ctx, loginChallengePrefix+session.Challenge, session); err != nil {
			return nil, err
		}
		return assertion, nil
	}

	user, err := s.userRepo.FindByPhone(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, domain.ErrCredentialNotFound
	}

	pUser, err := s.loadPasskeyUser(ctx, user)
	if err != nil {
		return nil, err
	}
	if len(pUser.creds) == 0 {
		return nil, domain.ErrCredentialNotFound
	}

	assertion, session, err := s.provider.BeginLogin(pUser)
	if err != nil {
		return nil, fmt.Errorf("failed to begin login: %w", err)
	}

	if err := s.storeSession(ctx, loginUserKeyPrefix+strconv.FormatInt(user.ID, 10), session); err != nil {
		return nil, err
	}
	return assertion, nil
}

func (s *passkeyService) FinishAuthentication(ctx context.Context, phone string, response []byte) (*domain.TokenPairResponse, error) {
	parsed, err := s.parser.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return nil, domain.WrapError(domain.KindValidation, "malformed assertion response", err)
	}

	stored, err := s.passkeyRepo.FindByCredentialID(ctx, encodeCredentialID(parsed.RawID))
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	if stored == nil {
		return nil, domain.ErrCredentialNotFound
	}

	user, err := s.userRepo.FindByID(ctx, stored.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, domain.ErrCredentialNotFound
	}

	pUser, err := s.loadPasskeyUser(ctx, user)
	if err != nil {
		return nil, err
	}

	var validated *webauthn.Credential
	if phone != "" {
		session, err := s.takeSession(ctx, loginUserKeyPrefix+strconv.FormatInt(user.ID, 10))
		if err != nil {
			return nil, err
		}
		validated, err = s.provider.ValidateLogin(pUser, *session, parsed)
		if err != nil {
			return nil, domain.WrapError(domain.KindUnauthorized, "assertion verification failed", err)
		}
	} else {
		// The challenge the client signed over is in the response, so the
		// session lookup is a direct key access rather than a scan.
		session, err := s.takeSession(ctx, loginChallengePrefix+parsed.Response.CollectedClientData.Challenge)
		if err != nil {
			return nil, err
		}
		handler := func(_, _ []byte) (webauthn.User, error) {
			return pUser, nil
		}
		validated, err = s.provider.ValidateDiscoverableLogin(handler, *session, parsed)
		if err != nil {
			return nil, domain.WrapError(domain.KindUnauthorized, "assertion verification failed", err)
		}
	}

	if err := s.enforceSignCount(ctx, stored, validated); err != nil {
		return nil, err
	}

	return s.tokenService.IssuePair(ctx, user)
}

// enforceSignCount rejects assertions whose counter did not advance past the
// stored value. Authenticators that never increment (both counters zero) are
// exempt, per the WebAuthn spec.
func (s *passkeyService) enforceSignCount(ctx context.Context, stored *domain.PasskeyCredential, validated *webauthn.Credential) error {
	if validated.Authenticator.CloneWarning {
		return domain.ErrReplayDetected
	}

	now := time.Now()
	newCount := validated.Authenticator.SignCount
	if newCount == 0 && stored.SignCount == 0 {
		return s.passkeyRepo.TouchLastUsed(ctx, stored.CredentialID, now)
	}

	ok, err := s.passkeyRepo.AdvanceSignCount(ctx, stored.CredentialID, newCount, now)
	if err != nil {
		return fmt.Errorf("failed to advance sign count: %w", err)
	}
	if !ok {
		return domain.ErrReplayDetected
	}
	return nil
}

func (s *passkeyService) List(ctx context.Context, userID int64) ([]domain.PasskeyInfo, error) {
	creds, err := s.passkeyRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	infos := make([]domain.PasskeyInfo, 0, len(creds))
	for _, c := range creds {
		infos = append(infos, *c.ToInfo())
	}
	return infos, nil
}

func (s *passkeyService) Remove(ctx context.Context, userID int64, credentialID string) error {
	if err := s.passkeyRepo.Delete(ctx, credentialID, userID); err != nil {
		return domain.ErrCredentialNotFound
	}

	if err := s.eventBus.Publish(ctx, events.PasskeyRemoved, events.PasskeyEvent{
		UserID:       userID,
		CredentialID: credentialID,
		OccurredAt:   time.Now(),
	}); err != nil {
		logger.WarnContext(ctx, "Failed to publish passkey event", "error", err)
	}
	return nil
}

func (s *passkeyService) storeSession(ctx context.Context, key string, session *webauthn.SessionData) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.ceremonies.Put(ctx, key, payload, s.cfg.WebAuthn.SessionTTL); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (s *passkeyService) takeSession(ctx context.Context, key string) (*webauthn.SessionData, error) {
	payload, found, err := s.ceremonies.Take(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if !found {
		return nil, domain.ErrChallengeExpired
	}
	var session webauthn.SessionData
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}
