// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"strings"
	"testing"

	"filippo.io/age/armor"
)

func TestGenerateKeypair(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer keypair.Close()

	if !strings.HasPrefix(string(keypair.Identity.Bytes()), "AGE-SECRET-KEY-1") {
		t.Error("identity lacks AGE-SECRET-KEY-1 prefix")
	}
	if err := ParseRecipient(keypair.Recipient); err != nil {
		t.Errorf("ParseRecipient(%q): %v", keypair.Recipient, err)
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	first, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer first.Close()
	second, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer second.Close()

	rootKey := bytes.Repeat([]byte{0x5a}, 32)
	ciphertext, err := Seal(rootKey, []string{first.Recipient, second.Recipient})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !bytes.HasPrefix(ciphertext, []byte(armor.Header)) {
		t.Errorf("ciphertext is not armored: %q", ciphertext[:min(40, len(ciphertext))])
	}

	for name, keypair := range map[string]*Keypair{"first": first, "second": second} {
		opened, err := Open(ciphertext, keypair.Identity)
		if err != nil {
			t.Fatalf("Open with %s identity: %v", name, err)
		}
		if !bytes.Equal(opened.Bytes(), rootKey) {
			t.Errorf("%s identity recovered wrong plaintext", name)
		}
		opened.Close()
	}
}

func TestOpenWithWrongIdentityFails(t *testing.T) {
	owner, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer owner.Close()
	stranger, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer stranger.Close()

	ciphertext, err := Seal([]byte("root key"), []string{owner.Recipient})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := Open(ciphertext, stranger.Identity); err == nil {
		t.Fatal("Open succeeded with an identity that is not a recipient")
	}
}

func TestSealRequiresRecipients(t *testing.T) {
	if _, err := Seal([]byte("x"), nil); err == nil {
		t.Error("Seal with no recipients succeeded")
	}
	if _, err := Seal([]byte("x"), []string{"not-a-key"}); err == nil {
		t.Error("Seal with a malformed recipient succeeded")
	}
}
