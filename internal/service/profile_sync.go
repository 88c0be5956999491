package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"matrimony_chat/internal/domain"
	"matrimony_chat/internal/normalize"
	"matrimony_chat/internal/repository"
	apperrors "matrimony_chat/pkg/errors"
	"matrimony_chat/pkg/logger"
)

const (
	usernameSequentialTries = 25
	usernameRandomTries     = 10
	usernameMaxLength       = 20
)

// ProfileSyncService переносит данные покупателя после оплаты в профиль.
// Намерение сначала пишется локально и удаляется только после успешной записи профиля
type ProfileSyncService interface {
	SetPending(ctx context.Context, sessionID string, prefill domain.PaymentPrefill) error
	Apply(ctx context.Context, sessionID string) (*domain.ProfileSyncResult, error)
}

type profileSyncService struct {
	store    repository.DocumentStore
	local    repository.LocalStoreFactory
	auth     repository.IdentityStore
	audit    AuditService
	authWait time.Duration
	now      func() time.Time
	log      logger.Logger
}

func NewProfileSyncService(
	store repository.DocumentStore,
	local repository.LocalStoreFactory,
	auth repository.IdentityStore,
	audit AuditService,
	authWait time.Duration,
	log logger.Logger,
) ProfileSyncService {
	return &profileSyncService{
		store:    store,
		local:    local,
		auth:     auth,
		audit:    audit,
		authWait: authWait,
		now:      time.Now,
		log:      log,
	}
}

func (s *profileSyncService) SetPending(ctx context.Context, sessionID string, prefill domain.PaymentPrefill) error {
	prefill.Name = strings.TrimSpace(prefill.Name)
	prefill.Email = strings.TrimSpace(prefill.Email)
	if prefill.Empty() {
		return apperrors.NewValidationError("Payment prefill needs a name or an email.")
	}
	if prefill.TS.IsZero() {
		prefill.TS = s.now().UTC()
	}

	raw, err := json.Marshal(prefill)
	if err != nil {
		return err
	}
	local := s.local.For(sessionID)
	if err := local.Set(ctx, PendingSyncKey, string(raw)); err != nil {
		s.log.Error("Failed to store pending profile sync", "error", err, "session_id", sessionID)
		return err
	}

	// имя и username сразу доступны чату как источники identity
	if prefill.Name != "" {
		_ = local.Set(ctx, NameKey, prefill.Name)
	}
	if username := normalize.UsernameFromEmail(prefill.Email); username != "" {
		_ = local.Set(ctx, UsernameKey, username)
	}
	return nil
}

func (s *profileSyncService) Apply(ctx context.Context, sessionID string) (*domain.ProfileSyncResult, error) {
	local := s.local.For(sessionID)
	raw, ok, err := local.Get(ctx, PendingSyncKey)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return &domain.ProfileSyncResult{Reason: domain.SyncReasonNoPending}, nil
	}

	var prefill domain.PaymentPrefill
	if err := json.Unmarshal([]byte(raw), &prefill); err != nil || prefill.Empty() {
		s.log.Warn("Dropping malformed pending profile sync", "session_id", sessionID)
		_ = local.Remove(ctx, PendingSyncKey)
		return &domain.ProfileSyncResult{Reason: domain.SyncReasonNoPending}, nil
	}

	resolver := NewIdentityResolver(sessionID, local, s.auth, s.authWait, s.log)
	user, err := resolver.AwaitAuthIdentity(ctx)
	if err != nil {
		return nil, err
	}
	if user == nil || user.UID == "" {
		// намерение остается до следующей попытки
		return &domain.ProfileSyncResult{Reason: domain.SyncReasonNoAuth}, nil
	}

	patch, err := s.buildPatch(ctx, user.UID, prefill)
	if err != nil {
		return nil, err
	}

	if len(patch) > 0 {
		if err := s.store.Set(ctx, domain.CollectionProfiles, user.UID, patch, repository.SetOptions{Merge: true}); err != nil {
			s.log.Error("Failed to sync profile", "error", err, "uid", user.UID)
			return nil, err
		}
		if s.audit != nil {
			if err := s.audit.LogEvent(ctx, user.UID, "", domain.EventTypeProfileSynced, patch); err != nil {
				s.log.Warn("Failed to audit profile sync", "error", err)
			}
		}
	}

	if err := local.Remove(ctx, PendingSyncKey); err != nil {
		s.log.Warn("Failed to clear pending profile sync", "error", err, "session_id", sessionID)
	}

	s.log.Info("Profile synced from payment", "uid", user.UID, "fields", len(patch))
	return &domain.ProfileSyncResult{Applied: len(patch) > 0, Patch: patch}, nil
}

// buildPatch заполняет только отсутствующие поля профиля
func (s *profileSyncService) buildPatch(ctx context.Context, uid string, prefill domain.PaymentPrefill) (map[string]interface{}, error) {
	var existing domain.Profile
	exists := true
	doc, err := s.store.Get(ctx, domain.CollectionProfiles, uid)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		exists = false
	case err != nil:
		return nil, err
	default:
		if err := repository.Decode(*doc, &existing); err != nil {
			return nil, err
		}
	}

	patch := map[string]interface{}{}
	name := strings.TrimSpace(prefill.Name)
	if existing.Name == "" && name != "" {
		patch["name"] = name
	}

	if existing.Username == "" {
		if base := normalize.UsernameFromEmail(prefill.Email); base != "" {
			username, err := s.reserveUsername(ctx, uid, base)
			if err != nil {
				return nil, err
			}
			if username != "" {
				patch["username"] = username
			}
		}
	}

	stamp := s.now().UTC().Format(time.RFC3339)
	if !exists {
		patch["createdAt"] = stamp
	}
	if len(patch) > 0 {
		patch["updatedAt"] = stamp
	}
	return patch, nil
}

// reserveUsername: base, base1..base24, затем 10 случайных четырехзначных суффиксов
func (s *profileSyncService) reserveUsername(ctx context.Context, uid, base string) (string, error) {
	base = normalize.UsernameBase(base)

	try := func(candidate string) (string, error) {
		key := candidate
		if len(key) > usernameMaxLength {
			key = key[:usernameMaxLength]
		}
		owner, err := s.store.Claim(ctx, domain.CollectionUsernames, key, uid)
		if err != nil {
			return "", err
		}
		if owner == uid {
			return key, nil
		}
		return "", nil
	}

	for i := 0; i < usernameSequentialTries; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s%d", base, i)
		}
		key, err := try(candidate)
		if err != nil {
			return "", err
		}
		if key != "" {
			s.logReserved(ctx, uid, key)
			return key, nil
		}
	}

	for i := 0; i < usernameRandomTries; i++ {
		key, err := try(fmt.Sprintf("%s%d", base, rand.Intn(9000)+1000))
		if err != nil {
			return "", err
		}
		if key != "" {
			s.logReserved(ctx, uid, key)
			return key, nil
		}
	}

	s.log.Warn("No free username candidate", "uid", uid, "base", base)
	return "", nil
}

func (s *profileSyncService) logReserved(ctx context.Context, uid, username string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogEvent(ctx, uid, "", domain.EventTypeUsernameReserve, map[string]interface{}{"username": username}); err != nil {
		s.log.Warn("Failed to audit username reservation", "error", err)
	}
}
