package sign

import (
	"crypto/ed25519"
	"fmt"

	"github.com/regatehq/regate/core/jcs"
)

func DigestJSON(input []byte) (string, error) {
	return jcs.DigestJCS(input)
}

func SignJSON(priv ed25519.PrivateKey, input []byte) (Signature, error) {
	digest, err := DigestJSON(input)
	if err != nil {
		return Signature{}, err
	}
	return SignDigestHex(priv, digest)
}

func VerifyJSON(pub ed25519.PublicKey, sig Signature, input []byte) (bool, error) {
	digest, err := DigestJSON(input)
	if err != nil {
		return false, err
	}
	if sig.SignedDigest == "" {
		return false, fmt.Errorf("missing signed_digest")
	}
	if sig.SignedDigest != digest {
		return false, fmt.Errorf("signed_digest mismatch")
	}
	return VerifyDigestHex(pub, sig)
}

// SignGateResultJSON signs the JCS digest of a rendered GateResult payload,
// so a downstream consumer of the JSON verdict can verify it was not altered
// between the CI job and wherever it's read.
func SignGateResultJSON(priv ed25519.PrivateKey, gateResultJSON []byte) (Signature, error) {
	return SignJSON(priv, gateResultJSON)
}

func VerifyGateResultJSON(pub ed25519.PublicKey, sig Signature, gateResultJSON []byte) (bool, error) {
	return VerifyJSON(pub, sig, gateResultJSON)
}
