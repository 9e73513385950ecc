package auth

import (
	"errors"
	"testing"
	"time"
)

func setSecret(t *testing.T, value string) {
	t.Helper()
	t.Setenv("SIGNALO_AUTH_SECRET", value)
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)
}

func TestTokenRoundTrip(t *testing.T) {
	setSecret(t, "unit-test-secret")

	u := &User{ID: "user-1", OrganizationID: "org-1", OrganizationAdmin: true}
	token, err := GenerateToken(u, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Errorf("subject = %q, want user-1", claims.Subject)
	}
	if claims.OrganizationID != "org-1" {
		t.Errorf("org = %q, want org-1", claims.OrganizationID)
	}
	if !claims.OrganizationAdmin {
		t.Error("expected org_admin claim")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	setSecret(t, "unit-test-secret")

	u := &User{ID: "user-1", OrganizationID: "org-1"}
	token, err := GenerateToken(u, time.Millisecond)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestTokenSignedWithOtherSecretRejected(t *testing.T) {
	setSecret(t, "secret-one")
	u := &User{ID: "user-1", OrganizationID: "org-1"}
	token, err := GenerateToken(u, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	setSecret(t, "secret-two")
	if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestMissingSecretFails(t *testing.T) {
	setSecret(t, "")

	u := &User{ID: "user-1", OrganizationID: "org-1"}
	if _, err := GenerateToken(u, time.Minute); err == nil {
		t.Fatal("expected an error without a configured secret")
	}
}

func TestPasswordHashAndVerify(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := VerifyPassword(hash, "correct horse battery staple"); err != nil {
		t.Fatalf("VerifyPassword with right password: %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong password err = %v, want ErrUnauthorized", err)
	}
	if err := VerifyPassword("not-a-hash", "anything"); err == nil {
		t.Fatal("expected an error for a malformed hash")
	}
}

func TestInMemoryUserStore(t *testing.T) {
	store := NewInMemory()
	ctx := t.Context()

	u := &User{OrganizationID: "org-1", Email: "Agent@Example.FR"}
	if err := store.Create(ctx, u); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.ID == "" {
		t.Fatal("expected an assigned id")
	}

	found, err := store.FindByEmail(ctx, "agent@example.fr")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if found.ID != u.ID {
		t.Fatalf("found id = %q, want %q", found.ID, u.ID)
	}

	dup := &User{OrganizationID: "org-1", Email: "agent@example.fr"}
	if err := store.Create(ctx, dup); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("duplicate email err = %v, want ErrInvalidInput", err)
	}

	if err := store.UpdatePassword(ctx, u.ID, "new-hash"); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
	reloaded, err := store.Find(ctx, u.ID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if reloaded.PasswordHash != "new-hash" {
		t.Fatalf("password hash = %q, want new-hash", reloaded.PasswordHash)
	}
}
