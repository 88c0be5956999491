package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"matrimony_chat/internal/domain"
	"matrimony_chat/internal/repository"
	apperrors "matrimony_chat/pkg/errors"
	"matrimony_chat/pkg/logger"
)

type profileSyncFixture struct {
	store repository.DocumentStore
	local repository.LocalStoreFactory
	auth  repository.IdentityStore
	svc   ProfileSyncService
}

func newProfileSyncFixture() *profileSyncFixture {
	store := repository.NewMemoryStore(logger.Nop())
	local := repository.NewMemoryLocalFactory()
	auth := repository.NewIdentityStore()
	audit := NewAuditService(repository.NewAuditRepository(store, logger.Nop()), logger.Nop())
	return &profileSyncFixture{
		store: store,
		local: local,
		auth:  auth,
		svc:   NewProfileSyncService(store, local, auth, audit, 20*time.Millisecond, logger.Nop()),
	}
}

func TestProfileSyncNoPending(t *testing.T) {
	f := newProfileSyncFixture()
	res, err := f.svc.Apply(context.Background(), "p1")
	if err != nil || res.Applied || res.Reason != domain.SyncReasonNoPending {
		t.Fatalf("Apply = %+v, %v", res, err)
	}
	if err := f.svc.SetPending(context.Background(), "p1", domain.PaymentPrefill{Name: " "}); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("empty prefill: %v", err)
	}
}

func TestProfileSyncKeepsIntentWithoutAuth(t *testing.T) {
	ctx := context.Background()
	f := newProfileSyncFixture()

	if err := f.svc.SetPending(ctx, "p1", domain.PaymentPrefill{Name: "Asha K", Email: "asha.k@example.com"}); err != nil {
		t.Fatal(err)
	}
	local := f.local.For("p1")
	if v, _, _ := local.Get(ctx, NameKey); v != "Asha K" {
		t.Fatalf("name key = %q", v)
	}
	if v, _, _ := local.Get(ctx, UsernameKey); v != "asha" {
		t.Fatalf("username key = %q", v)
	}

	res, err := f.svc.Apply(ctx, "p1")
	if err != nil || res.Applied || res.Reason != domain.SyncReasonNoAuth {
		t.Fatalf("Apply = %+v, %v", res, err)
	}
	if _, ok, _ := local.Get(ctx, PendingSyncKey); !ok {
		t.Fatal("pending intent dropped without auth")
	}
}

func TestProfileSyncReservesFreeUsername(t *testing.T) {
	ctx := context.Background()
	f := newProfileSyncFixture()

	for _, taken := range []string{"asha", "asha1"} {
		if _, err := f.store.Claim(ctx, domain.CollectionUsernames, taken, "someone-else"); err != nil {
			t.Fatal(err)
		}
	}
	_ = f.svc.SetPending(ctx, "p1", domain.PaymentPrefill{Name: "Asha K", Email: "asha.k@example.com"})
	f.auth.Publish("p1", &domain.AuthIdentity{UID: "u1", Email: "asha.k@example.com"})

	res, err := f.svc.Apply(ctx, "p1")
	if err != nil || !res.Applied {
		t.Fatalf("Apply = %+v, %v", res, err)
	}

	doc, err := f.store.Get(ctx, domain.CollectionProfiles, "u1")
	if err != nil {
		t.Fatal(err)
	}
	var profile domain.Profile
	_ = repository.Decode(*doc, &profile)
	if profile.Username != "asha2" || profile.Name != "Asha K" || profile.CreatedAt == "" {
		t.Fatalf("profile = %+v", profile)
	}

	owner, _ := f.store.Claim(ctx, domain.CollectionUsernames, "asha2", "intruder")
	if owner != "u1" {
		t.Fatalf("asha2 owner = %q", owner)
	}
	if _, ok, _ := f.local.For("p1").Get(ctx, PendingSyncKey); ok {
		t.Fatal("pending intent not cleared")
	}
}

func TestProfileSyncFillsOnlyMissingFields(t *testing.T) {
	ctx := context.Background()
	f := newProfileSyncFixture()

	_ = f.store.Set(ctx, domain.CollectionProfiles, "u1", map[string]interface{}{
		"name":      "Existing Name",
		"createdAt": "2024-01-01T00:00:00Z",
	}, repository.SetOptions{})
	_ = f.svc.SetPending(ctx, "p1", domain.PaymentPrefill{Name: "New Name", Email: "9lives@example.com"})
	f.auth.Publish("p1", &domain.AuthIdentity{UID: "u1"})

	res, err := f.svc.Apply(ctx, "p1")
	if err != nil || !res.Applied {
		t.Fatalf("Apply = %+v, %v", res, err)
	}
	if _, ok := res.Patch["name"]; ok {
		t.Fatalf("existing name overwritten: %+v", res.Patch)
	}
	if res.Patch["username"] != "u9lives" {
		t.Fatalf("username = %v", res.Patch["username"])
	}
	if _, ok := res.Patch["createdAt"]; ok {
		t.Fatal("createdAt rewritten for an existing profile")
	}
}
