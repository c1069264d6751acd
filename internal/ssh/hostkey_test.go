package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"
)

func TestNewHostKeyCallbackTrustOnFirstUse(t *testing.T) {
	tempDir := t.TempDir()
	knownHostsPath := filepath.Join(tempDir, "known_hosts")

	callback, err := NewHostKeyCallback(knownHostsPath, true)
	if err != nil {
		t.Fatalf("failed to create callback: %v", err)
	}

	key1 := generateTestPublicKey(t)
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 22}

	if err := callback("example.com:22", addr, key1); err != nil {
		t.Fatalf("expected first key to be accepted, got %v", err)
	}

	if _, err := os.Stat(knownHostsPath); err != nil {
		t.Fatalf("expected known_hosts file to be created: %v", err)
	}

	callback, err = NewHostKeyCallback(knownHostsPath, true)
	if err != nil {
		t.Fatalf("failed to recreate callback: %v", err)
	}

	if err := callback("example.com:22", addr, key1); err != nil {
		t.Fatalf("expected recorded key to be accepted, got %v", err)
	}

	key2 := generateTestPublicKey(t)
	if err := callback("example.com:22", addr, key2); !errors.Is(err, ErrHostKeyChanged) {
		t.Fatalf("expected ErrHostKeyChanged, got %v", err)
	}
}

func TestNewHostKeyCallbackRejectsUnknownWhenDisabled(t *testing.T) {
	tempDir := t.TempDir()
	knownHostsPath := filepath.Join(tempDir, "known_hosts")

	callback, err := NewHostKeyCallback(knownHostsPath, false)
	if err != nil {
		t.Fatalf("failed to create callback: %v", err)
	}

	key := generateTestPublicKey(t)
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 2222}

	if err := callback("example.com:2222", addr, key); !errors.Is(err, ErrUnknownHostKey) {
		t.Fatalf("expected ErrUnknownHostKey, got %v", err)
	}
}

func TestNewHostKeyCallbackEmptyPathAcceptsAnyKey(t *testing.T) {
	callback, err := NewHostKeyCallback("", false)
	if err != nil {
		t.Fatalf("failed to create callback: %v", err)
	}
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 22}
	if err := callback("example.com:22", addr, generateTestPublicKey(t)); err != nil {
		t.Fatalf("expected key to be accepted, got %v", err)
	}
}

func TestReadPrivateKey(t *testing.T) {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(privateKey, "")
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}

	signer, err := ReadPrivateKey(path, "")
	if err != nil {
		t.Fatalf("failed to read key: %v", err)
	}
	if signer.PublicKey().Type() != ssh.KeyAlgoED25519 {
		t.Fatalf("unexpected key type %s", signer.PublicKey().Type())
	}

	protected, err := ssh.MarshalPrivateKeyWithPassphrase(privateKey, "", []byte("secret"))
	if err != nil {
		t.Fatalf("failed to marshal protected key: %v", err)
	}
	protectedPath := filepath.Join(t.TempDir(), "id_protected")
	if err := os.WriteFile(protectedPath, pem.EncodeToMemory(protected), 0600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}
	if _, err := ReadPrivateKey(protectedPath, ""); err == nil {
		t.Fatalf("expected error for encrypted key without passphrase")
	}
	if _, err := ReadPrivateKey(protectedPath, "secret"); err != nil {
		t.Fatalf("failed to decrypt key: %v", err)
	}
}

func TestAuthMethodsRequiresCredentials(t *testing.T) {
	if _, err := AuthMethods(&ClientConfig{Host: "example.com"}); !errors.Is(err, ErrNoAuthMethod) {
		t.Fatalf("expected ErrNoAuthMethod, got %v", err)
	}
	methods, err := AuthMethods(&ClientConfig{Password: "pw"})
	if err != nil || len(methods) != 1 {
		t.Fatalf("expected one password method, got %d (%v)", len(methods), err)
	}
}

func generateTestPublicKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	pubKey, err := ssh.NewPublicKey(&privateKey.PublicKey)
	if err != nil {
		t.Fatalf("failed to create public key: %v", err)
	}

	return pubKey
}
