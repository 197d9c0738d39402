package ledger

import (
	"bytes"
	"testing"

	bls "github.com/cloudflare/circl/sign/bls"
)

func TestBatchDigestDeterministicAndOrderSensitive(t *testing.T) {
	pairs := []SettledPair{
		{PairID: "pair-1", MatchID: "match-1"},
		{PairID: "pair-2", MatchID: "match-2"},
	}
	d1 := BatchDigest("batch-1", pairs)
	d2 := BatchDigest("batch-1", pairs)
	if !bytes.Equal(d1, d2) {
		t.Fatalf("BatchDigest not deterministic")
	}

	reordered := []SettledPair{pairs[1], pairs[0]}
	d3 := BatchDigest("batch-1", reordered)
	if bytes.Equal(d1, d3) {
		t.Errorf("BatchDigest did not change when pair order changed")
	}
}

func TestAttestAggregateVerifyRoundTrip(t *testing.T) {
	key1, err := NewOperatorKeyFromSeed([]byte("operator-one-seed-000000000000"))
	if err != nil {
		t.Fatalf("key1: %v", err)
	}
	key2, err := NewOperatorKeyFromSeed([]byte("operator-two-seed-000000000000"))
	if err != nil {
		t.Fatalf("key2: %v", err)
	}

	digest := BatchDigest("batch-1", []SettledPair{{PairID: "p1", MatchID: "m1"}})

	sig1 := key1.Attest(digest)
	sig2 := key2.Attest(digest)

	agg, err := AggregateAttestations([][]byte{sig1, sig2})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	ok := VerifyAttestation([]*bls.PublicKey[scheme]{key1.PublicKey(), key2.PublicKey()}, digest, agg)
	if !ok {
		t.Errorf("aggregate attestation failed to verify")
	}
}

func TestVerifyAttestationRejectsWrongDigest(t *testing.T) {
	key, err := NewOperatorKeyFromSeed([]byte("operator-seed-00000000000000000"))
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	digest := BatchDigest("batch-1", []SettledPair{{PairID: "p1", MatchID: "m1"}})
	otherDigest := BatchDigest("batch-2", []SettledPair{{PairID: "p1", MatchID: "m1"}})

	sig := key.Attest(digest)
	agg, err := AggregateAttestations([][]byte{sig})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	if VerifyAttestation([]*bls.PublicKey[scheme]{key.PublicKey()}, otherDigest, agg) {
		t.Errorf("attestation verified against the wrong digest")
	}
}
