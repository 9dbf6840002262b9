package auth

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

func signChallenge(t *testing.T, priv *btcec.PrivateKey, message string) string {
	t.Helper()
	sig := ecdsa.SignCompact(priv, hashSignedMessage(message), true)
	return base64.StdEncoding.EncodeToString(sig)
}

func segwitAddress(t *testing.T, priv *btcec.PrivateKey) string {
	t.Helper()
	pubKeyHash := btcutil.Hash160(priv.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, &chaincfg.TestNet4Params)
	if err != nil {
		t.Fatalf("failed to build address: %v", err)
	}
	return addr.EncodeAddress()
}

func TestVerifyAcceptsOwnSignature(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("failed to create key: %v", err)
	}
	wallet := segwitAddress(t, priv)

	message := GenerateChallenge(wallet, time.Now().UnixMilli())
	sigB64 := signChallenge(t, priv, message)

	if !Verify(message, sigB64, wallet) {
		t.Fatalf("expected verification to pass for the signing wallet")
	}
}

func TestVerifyRejectsWrongWallet(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("failed to create key: %v", err)
	}
	other, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("failed to create key: %v", err)
	}
	wallet := segwitAddress(t, priv)
	otherWallet := segwitAddress(t, other)

	message := GenerateChallenge(wallet, time.Now().UnixMilli())
	sigB64 := signChallenge(t, priv, message)

	if Verify(message, sigB64, otherWallet) {
		t.Fatalf("expected verification to fail for a different wallet")
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("failed to create key: %v", err)
	}
	wallet := segwitAddress(t, priv)

	message := GenerateChallenge(wallet, time.Now().UnixMilli())
	sigB64 := signChallenge(t, priv, message)

	if Verify(message+" tampered", sigB64, wallet) {
		t.Fatalf("expected verification to fail for a tampered message")
	}
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("failed to create key: %v", err)
	}
	wallet := segwitAddress(t, priv)
	message := GenerateChallenge(wallet, time.Now().UnixMilli())

	for _, sig := range []string{"", "not-base64!!", base64.StdEncoding.EncodeToString([]byte("short"))} {
		if Verify(message, sig, wallet) {
			t.Fatalf("expected verification to fail for signature %q", sig)
		}
	}
}

func TestIsTimestampValid(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name string
		ts   int64
		want bool
	}{
		{"fresh", now.UnixMilli(), true},
		{"edge of window", now.Add(-4 * time.Minute).UnixMilli(), true},
		{"expired", now.Add(-6 * time.Minute).UnixMilli(), false},
		{"future", now.Add(2 * time.Minute).UnixMilli(), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTimestampValid(tc.ts, DefaultChallengeMaxAge); got != tc.want {
				t.Fatalf("IsTimestampValid(%d) = %v, want %v", tc.ts, got, tc.want)
			}
		})
	}
}

func TestChooseParamsUnknownAddress(t *testing.T) {
	if params := chooseParams("definitely-not-an-address"); params != nil {
		t.Fatalf("expected nil params for garbage input, got %s", params.Name)
	}
}

func TestGenerateChallengeDeterministic(t *testing.T) {
	a := GenerateChallenge("tb1qexample", 1700000000000)
	b := GenerateChallenge(" tb1qexample ", 1700000000000)
	if a != b {
		t.Fatalf("challenge should be stable under wallet whitespace")
	}
}
