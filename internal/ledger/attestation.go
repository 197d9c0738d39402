package ledger

import (
	bls "github.com/cloudflare/circl/sign/bls"
)

// scheme pins the BLS ciphersuite: public keys in G1, signatures in G2,
// matching the teacher's pkg/crypto/bls.go choice.
type scheme = bls.KeyG1SigG2

// OperatorKey signs settlement batches on behalf of one venue operator
// share. Repurposed from the teacher's BFT block-signing key (BLSSigner)
// to settlement-batch attestation: instead of validators co-signing a
// block header, operator shares co-sign the bytes of one outbound
// settle_batch call so the ledger can cheaply verify multi-operator
// sign-off before accepting it (spec.md §6.4, SPEC_FULL.md §4.6).
type OperatorKey struct {
	sk *bls.PrivateKey[scheme]
	pk *bls.PublicKey[scheme]
}

func NewOperatorKeyFromSeed(seed []byte) (*OperatorKey, error) {
	sk, err := bls.KeyGen[scheme](seed, nil, nil)
	if err != nil {
		return nil, err
	}
	return &OperatorKey{sk: sk, pk: sk.PublicKey()}, nil
}

func (k *OperatorKey) PublicKey() *bls.PublicKey[scheme] { return k.pk }

// Attest signs the batch digest with this operator's share.
func (k *OperatorKey) Attest(digest []byte) []byte {
	return bls.Sign(k.sk, digest)
}

// AggregateAttestations combines multiple operators' signatures over the
// same batch digest into one attestation the ledger verifies in a single
// pairing check rather than one per operator.
func AggregateAttestations(sigs [][]byte) ([]byte, error) {
	bsigs := make([]bls.Signature, 0, len(sigs))
	for _, s := range sigs {
		if len(s) == 0 {
			continue
		}
		bsigs = append(bsigs, bls.Signature(s))
	}
	return bls.Aggregate(bls.G1{}, bsigs)
}

// VerifyAttestation checks an aggregate attestation from operatorKeys
// against the batch digest they all signed.
func VerifyAttestation(operatorKeys []*bls.PublicKey[scheme], digest []byte, aggregate []byte) bool {
	return bls.VerifyAggregate(operatorKeys, [][]byte{digest}, bls.Signature(aggregate))
}

// BatchDigest hashes a batch's identity fields into the bytes operators
// attest to: the batch id plus each pair id and match id, in order, so a
// reordered or substituted pair list produces a different digest.
func BatchDigest(batchID string, pairs []SettledPair) []byte {
	h := make([]byte, 0, len(batchID)+len(pairs)*16)
	h = append(h, batchID...)
	for _, p := range pairs {
		h = append(h, p.PairID...)
		h = append(h, p.MatchID...)
	}
	return h
}
