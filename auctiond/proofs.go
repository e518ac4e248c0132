package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"go.uber.org/zap"

	"github.com/cloudx-io/openbidding/auctionapi"
	"github.com/cloudx-io/openbidding/core"
)

// EnclaveAttester interface for dependency injection and testing
type EnclaveAttester interface {
	Attest(options enclave.AttestationOptions) ([]byte, error)
}

// getEnclaveAttester returns the NSM handle, or an error outside an enclave.
func getEnclaveAttester() (EnclaveAttester, error) {
	handle, err := enclave.GetOrInitializeHandle()
	if err != nil {
		return nil, fmt.Errorf("NSM not available: %w", err)
	}
	return handle, nil
}

// generateNonce returns 256 bits from crypto/rand, hex encoded. Inside an
// enclave the kernel pool is fed by the NSM.
func generateNonce() (string, error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("entropy generation failed: %w", err)
	}
	return hex.EncodeToString(randomBytes), nil
}

// BuildSettlementUserData summarizes a closed auction for attestation.
// Bidders appear only through salted entry hashes.
func BuildSettlementUserData(view core.View, hashNonce string, now time.Time) *auctionapi.SettlementUserData {
	ranked := view.Ledger.AllRanked()
	entryHashes := make([]string, 0, len(ranked))
	for _, bid := range ranked {
		entryHashes = append(entryHashes, core.ComputeEntryHash(bid.Bidder, bid.Amount, hashNonce))
	}

	var winning core.Amount
	if view.Status.Winner != "" {
		winning, _ = view.Ledger.Get(view.Status.Winner)
	}

	return &auctionapi.SettlementUserData{
		Owner:          view.Config.Owner,
		Commodity:      view.Config.Commodity,
		State:          view.Status.State,
		Winner:         view.Status.Winner,
		WinningAmount:  winning,
		Payout:         view.Status.Payout,
		EntryHashes:    entryHashes,
		HashNonce:      hashNonce,
		LedgerHash:     core.ComputeLedgerHash(ranked, hashNonce),
		SettlementHash: core.ComputeSettlementHash(view.Config, view.Status, hashNonce),
		Timestamp:      now,
	}
}

// GenerateSettlementAttestation attests the settlement of a closed auction.
func GenerateSettlementAttestation(attester EnclaveAttester, view core.View, log *zap.Logger) (auctionapi.AttestationCOSE, error) {
	if attester == nil {
		return nil, fmt.Errorf("enclave attester is nil")
	}
	if view.Status.State != core.StateClosed {
		return nil, fmt.Errorf("auction is %s, not closed", view.Status.State)
	}

	hashNonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate hash nonce: %w", err)
	}
	userData := BuildSettlementUserData(view, hashNonce, time.Now().UTC())

	userDataBytes, err := json.Marshal(userData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user data: %w", err)
	}
	randomNonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate attestation nonce: %w", err)
	}

	attestationCBOR, err := attester.Attest(enclave.AttestationOptions{
		UserData: userDataBytes,
		Nonce:    []byte(randomNonce),
	})
	if err != nil {
		log.Error("NSM attestation failed", zap.Error(err))
		return nil, fmt.Errorf("NSM attestation failed: %w", err)
	}

	log.Info("settlement attestation generated", zap.Int("bytes", len(attestationCBOR)))
	return auctionapi.AttestationCOSE(attestationCBOR), nil
}
