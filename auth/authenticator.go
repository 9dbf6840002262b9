package auth

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// DefaultChallengeMaxAge bounds how long a signed challenge stays acceptable.
// Within the window a captured signature can be replayed; see the verify
// endpoint docs for why that trade-off is accepted for a gas-free signature.
const DefaultChallengeMaxAge = 5 * time.Minute

// GenerateChallenge builds the deterministic message a wallet signs to prove
// ownership. The text spells out that signing is free so wallets render a
// plain message prompt instead of a transaction warning.
func GenerateChallenge(walletAddress string, timestampMs int64) string {
	return fmt.Sprintf(
		"Sign this message to authenticate with LedgerWork.\n\n"+
			"Wallet: %s\n"+
			"Timestamp: %d\n\n"+
			"This signature is free: it costs no gas and does not send a transaction.",
		strings.TrimSpace(walletAddress), timestampMs)
}

// IsTimestampValid rejects challenges from the future and challenges older
// than maxAge. The timestamp is the anti-replay token; no server-side nonce
// store is kept.
func IsTimestampValid(timestampMs int64, maxAge time.Duration) bool {
	if maxAge <= 0 {
		maxAge = DefaultChallengeMaxAge
	}
	age := time.Since(time.UnixMilli(timestampMs))
	return age >= 0 && age <= maxAge
}

// Verify recovers the signer of a compact signature over message and compares
// the derived address to expectedAddress, case-insensitively. Any recovery or
// decode failure yields false; callers never see an error from a bad signature.
func Verify(message, signatureB64, expectedAddress string) bool {
	expected := strings.TrimSpace(expectedAddress)
	params := chooseParams(expected)
	if params == nil {
		return false
	}

	sigBytes, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signatureB64))
	if err != nil || len(sigBytes) != 65 {
		return false
	}

	pubKey, wasCompressed, err := ecdsa.RecoverCompact(sigBytes, hashSignedMessage(message))
	if err != nil {
		return false
	}

	serialized := pubKey.SerializeCompressed()
	if !wasCompressed {
		serialized = pubKey.SerializeUncompressed()
	}
	addr, err := btcutil.NewAddressPubKey(serialized, params)
	if err != nil {
		return false
	}
	if strings.EqualFold(addr.AddressPubKeyHash().EncodeAddress(), expected) {
		return true
	}

	// The same key in segwit form (P2WPKH) or nested P2SH-P2WPKH, for wallets
	// that emit legacy signmessage over a segwit address.
	pubKeyHash := btcutil.Hash160(pubKey.SerializeCompressed())
	if wpkh, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, params); err == nil {
		if strings.EqualFold(wpkh.EncodeAddress(), expected) {
			return true
		}
	}
	if witScript, err := txscript.NewScriptBuilder().AddOp(txscript.OP_0).AddData(pubKeyHash).Script(); err == nil {
		if sh, err := btcutil.NewAddressScriptHash(witScript, params); err == nil {
			if strings.EqualFold(sh.EncodeAddress(), expected) {
				return true
			}
		}
	}
	return false
}

// ChallengeDigest returns the digest a wallet signs for a challenge message:
// the signed-message envelope followed by double SHA256. Exposed for clients
// that sign programmatically.
func ChallengeDigest(message string) []byte {
	return hashSignedMessage(message)
}

// hashSignedMessage applies the signed-message envelope and double SHA256.
func hashSignedMessage(message string) []byte {
	var buf bytes.Buffer
	_ = wire.WriteVarString(&buf, 0, "Bitcoin Signed Message:\n")
	_ = wire.WriteVarString(&buf, 0, message)
	h1 := sha256.Sum256(buf.Bytes())
	h2 := sha256.Sum256(h1[:])
	return h2[:]
}

// chooseParams picks network params by decoding the address.
func chooseParams(address string) *chaincfg.Params {
	if address == "" {
		return nil
	}
	for _, params := range []*chaincfg.Params{
		&chaincfg.TestNet4Params,
		&chaincfg.TestNet3Params,
		&chaincfg.MainNetParams,
	} {
		if decoded, err := btcutil.DecodeAddress(address, params); err == nil && decoded.IsForNet(params) {
			return params
		}
	}
	return nil
}
