package controller

import (
	"path/filepath"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/signalworks/pulse/internal/pkg/security"
)

func initTestKey(t *testing.T) {
	t.Helper()
	keyPath := filepath.Join(t.TempDir(), "test.key")
	if _, err := security.InitMasterKey(keyPath); err != nil {
		t.Fatalf("init master key: %v", err)
	}
}

func TestStore_InitializeAndReload(t *testing.T) {
	initTestKey(t)
	path := filepath.Join(t.TempDir(), "meta.enc")

	s := NewStore(path)
	if err := s.Load(); err != nil {
		t.Fatalf("load on missing file must succeed: %v", err)
	}
	if s.IsInitialized() {
		t.Fatal("fresh store must not be initialized")
	}

	if err := s.InitializeSystem("admin", "secret123"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if !s.IsInitialized() {
		t.Fatal("store should be initialized")
	}

	user, ok := s.GetUser("admin")
	if !ok {
		t.Fatal("admin user missing")
	}
	if user.Role != "super_admin" {
		t.Errorf("expected super_admin, got %q", user.Role)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("secret123")); err != nil {
		t.Errorf("password hash does not verify: %v", err)
	}

	// Reload from the encrypted file.
	s2 := NewStore(path)
	if err := s2.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !s2.IsInitialized() {
		t.Error("initialization must survive reload")
	}
	if _, ok := s2.GetUser("ADMIN"); !ok {
		t.Error("user lookup should be case-insensitive")
	}
}

func TestStore_Users(t *testing.T) {
	initTestKey(t)
	s := NewStore(filepath.Join(t.TempDir(), "meta.enc"))

	if err := s.AddUser(User{Username: "alice", Role: "viewer"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.AddUser(User{Username: "alice"}); err == nil {
		t.Error("expected duplicate username rejected")
	}

	if err := s.DeleteUser("alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := s.GetUser("alice"); ok {
		t.Error("deleted user still present")
	}
	if err := s.DeleteUser("nobody"); err == nil {
		t.Error("expected error deleting unknown user")
	}
}

func TestStore_Tokens(t *testing.T) {
	initTestKey(t)
	s := NewStore(filepath.Join(t.TempDir(), "meta.enc"))

	tok := APIToken{ID: "id-1", Name: "ingester", Token: "pk-abc", Type: "write"}
	if err := s.AddToken(tok); err != nil {
		t.Fatalf("add token: %v", err)
	}

	got, ok := s.GetTokenByValue("pk-abc")
	if !ok || got.Name != "ingester" {
		t.Errorf("token lookup failed: %+v", got)
	}
	if _, ok := s.GetTokenByValue("pk-nope"); ok {
		t.Error("unknown token must not resolve")
	}

	if err := s.DeleteToken("id-1"); err != nil {
		t.Fatalf("delete token: %v", err)
	}
	if _, ok := s.GetTokenByValue("pk-abc"); ok {
		t.Error("deleted token still resolves")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	initTestKey(t)

	plain := []byte(`{"initialized":true}`)
	enc, err := security.Encrypt(plain)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if string(enc) == string(plain) {
		t.Error("ciphertext equals plaintext")
	}
	dec, err := security.Decrypt(enc)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(dec) != string(plain) {
		t.Errorf("round trip mangled data: %q", dec)
	}
}
