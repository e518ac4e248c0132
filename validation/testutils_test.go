package validation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/openbidding/auctionapi"
	"github.com/cloudx-io/openbidding/auctionapi/parsing"
	"github.com/cloudx-io/openbidding/core"
)

// es384Protected is the CBOR map {1: -35}, the protected header Nitro emits.
var es384Protected = []byte{0xa1, 0x01, 0x38, 0x22}

var testPCRs = map[uint64][]byte{
	0: {0x00, 0x01},
	1: {0x10, 0x11},
	2: {0x20, 0x21},
}

func knownTestPCRs() []PCRSet {
	return []PCRSet{
		{PCR0: "ffff", PCR1: "ffff", PCR2: "ffff", CommitHash: "stale"},
		{PCR0: "0001", PCR1: "1011", PCR2: "2021", CommitHash: "abc123"},
	}
}

type testCA struct {
	cert *x509.Certificate
	der  []byte
	key  *ecdsa.PrivateKey
}

func (ca testCA) pem() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.der})
}

func newTestKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	assert.Nil(t, err)
	return key
}

func newTestCA(t *testing.T, now time.Time) testCA {
	t.Helper()
	key := newTestKey(t)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test-root"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	assert.Nil(t, err)
	cert, err := x509.ParseCertificate(der)
	assert.Nil(t, err)
	return testCA{cert: cert, der: der, key: key}
}

// newLeaf issues a short lived signing certificate, like the ones the Nitro
// Secure Module attaches to every attestation.
func newLeaf(t *testing.T, ca testCA, now time.Time) ([]byte, *ecdsa.PrivateKey) {
	t.Helper()
	key := newTestKey(t)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "test-enclave"},
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(3 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, &key.PublicKey, ca.key)
	assert.Nil(t, err)
	return der, key
}

// signedCOSE builds an untagged COSE_Sign1 array signed with key, carrying a
// Nitro style document with the given user data.
func signedCOSE(t *testing.T, key *ecdsa.PrivateKey, leafDER []byte, bundle [][]byte, at time.Time, userData []byte) auctionapi.AttestationCOSE {
	t.Helper()
	doc := parsing.NitroAttestationDocument{
		ModuleID:    "i-0test-enc0001",
		Digest:      "SHA384",
		Timestamp:   uint64(at.UnixMilli()),
		PCRs:        testPCRs,
		Certificate: leafDER,
		CABundle:    bundle,
		UserData:    userData,
	}
	payload, err := cbor.Marshal(doc)
	assert.Nil(t, err)

	toSign, err := sigStructure(es384Protected, payload)
	assert.Nil(t, err)
	signer, err := cose.NewSigner(cose.AlgorithmES384, key)
	assert.Nil(t, err)
	signature, err := signer.Sign(rand.Reader, toSign)
	assert.Nil(t, err)

	raw, err := cbor.Marshal([]any{es384Protected, map[any]any{}, payload, signature})
	assert.Nil(t, err)
	return auctionapi.AttestationCOSE(raw)
}

// closedAuction is the record after sender1 bid 10 and sender2 bid 20 and the
// owner closed the auction.
func closedAuction() core.View {
	return core.View{
		Config: core.Config{Owner: "owner", Commodity: "gold"},
		Status: core.Status{State: core.StateClosed, Winner: "sender2", Payout: 18},
		Ledger: core.NewLedger(
			core.LedgerEntry{Bidder: "owner", Seq: 0},
			core.LedgerEntry{Bidder: "sender1", Amount: 10, CommissionPaid: 1, Seq: 1},
			core.LedgerEntry{Bidder: "sender2", Amount: 20, CommissionPaid: 2, Seq: 2},
		),
	}
}

func settlementUserData(view core.View, nonce string, at time.Time) auctionapi.SettlementUserData {
	ranked := view.Ledger.AllRanked()
	hashes := make([]string, 0, len(ranked))
	for _, bid := range ranked {
		hashes = append(hashes, core.ComputeEntryHash(bid.Bidder, bid.Amount, nonce))
	}
	winning, _ := view.Ledger.Get(view.Status.Winner)
	return auctionapi.SettlementUserData{
		Owner:          view.Config.Owner,
		Commodity:      view.Config.Commodity,
		State:          view.Status.State,
		Winner:         view.Status.Winner,
		WinningAmount:  winning,
		Payout:         view.Status.Payout,
		EntryHashes:    hashes,
		HashNonce:      nonce,
		LedgerHash:     core.ComputeLedgerHash(ranked, nonce),
		SettlementHash: core.ComputeSettlementHash(view.Config, view.Status, nonce),
		Timestamp:      at,
	}
}

// settlementFixture is a signed settlement attestation for closedAuction.
type settlementFixture struct {
	cose auctionapi.AttestationCOSE
	ca   testCA
	leaf []byte
	at   time.Time
	view core.View
}

func newSettlementFixture(t *testing.T, mutate ...func(*auctionapi.SettlementUserData)) settlementFixture {
	t.Helper()
	at := time.Now().UTC().Truncate(time.Millisecond)
	ca := newTestCA(t, at)
	leaf, key := newLeaf(t, ca, at)

	view := closedAuction()
	ud := settlementUserData(view, "0badc0ffee", at)
	for _, m := range mutate {
		m(&ud)
	}
	userData, err := json.Marshal(ud)
	assert.Nil(t, err)

	return settlementFixture{
		cose: signedCOSE(t, key, leaf, [][]byte{ca.der}, at, userData),
		ca:   ca,
		leaf: leaf,
		at:   at,
		view: view,
	}
}

func (f settlementFixture) leafB64() string {
	return base64.StdEncoding.EncodeToString(f.leaf)
}
