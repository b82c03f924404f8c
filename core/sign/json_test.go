package sign

import (
	"bytes"
	"testing"
)

func TestSignVerifyGateResultJSON(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	gateResult := []byte(`{"verdict":"PASS","run_id":"run_demo","checks":[]}`)
	sig, err := SignGateResultJSON(kp.Private, gateResult)
	if err != nil {
		t.Fatalf("sign gate result: %v", err)
	}
	ok, err := VerifyGateResultJSON(kp.Public, sig, gateResult)
	if err != nil {
		t.Fatalf("verify gate result: %v", err)
	}
	if !ok {
		t.Fatalf("expected gate result signature to verify")
	}

	tampered := bytes.Replace(gateResult, []byte("PASS"), []byte("FAIL"), 1)
	if _, err := VerifyGateResultJSON(kp.Public, sig, tampered); err == nil {
		t.Fatalf("expected tampered gate result to fail verification")
	}
}

func TestDigestJSONIsCanonical(t *testing.T) {
	a, err := DigestJSON([]byte(`{"b":2,"a":1}`))
	if err != nil {
		t.Fatalf("digest a: %v", err)
	}
	b, err := DigestJSON([]byte(`{"a":1,"b":2}`))
	if err != nil {
		t.Fatalf("digest b: %v", err)
	}
	if a != b {
		t.Fatalf("expected canonical digests to match regardless of key order: %s != %s", a, b)
	}
}
