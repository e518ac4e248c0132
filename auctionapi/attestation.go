package auctionapi

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudx-io/openbidding/auctionapi/parsing"
	"github.com/cloudx-io/openbidding/core"
)

// AttestationCOSE is a raw COSE_Sign1 attestation as returned by the Nitro
// Secure Module.
type AttestationCOSE []byte

// AttestationCOSEBase64 is an AttestationCOSE in standard base64. This is the
// form carried in responses.
type AttestationCOSEBase64 string

// AttestationCOSEURLBase64 is an AttestationCOSE in unpadded URL-safe base64.
type AttestationCOSEURLBase64 string

// AttestationCOSEGzip is an AttestationCOSE, gzipped then encoded as unpadded
// URL-safe base64. Used where the attestation has to fit in a URL.
type AttestationCOSEGzip string

func (a AttestationCOSEBase64) String() string    { return string(a) }
func (a AttestationCOSEURLBase64) String() string { return string(a) }
func (a AttestationCOSEGzip) String() string      { return string(a) }

func (a AttestationCOSE) EncodeBase64() AttestationCOSEBase64 {
	return AttestationCOSEBase64(base64.StdEncoding.EncodeToString(a))
}

func (a AttestationCOSE) EncodeURLSafe() AttestationCOSEURLBase64 {
	return AttestationCOSEURLBase64(base64.RawURLEncoding.EncodeToString(a))
}

// CompressGzip gzips the attestation. The output is deterministic for a given
// input.
func (a AttestationCOSE) CompressGzip() (AttestationCOSEGzip, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(a); err != nil {
		return "", fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("gzip close: %w", err)
	}
	return AttestationCOSEGzip(base64.RawURLEncoding.EncodeToString(buf.Bytes())), nil
}

func (a AttestationCOSEBase64) Decode() (AttestationCOSE, error) {
	data, err := base64.StdEncoding.DecodeString(string(a))
	if err != nil {
		return nil, fmt.Errorf("decode COSE base64: %w", err)
	}
	return AttestationCOSE(data), nil
}

func (a AttestationCOSEBase64) CompressGzip() (AttestationCOSEGzip, error) {
	cose, err := a.Decode()
	if err != nil {
		return "", err
	}
	return cose.CompressGzip()
}

// Decode accepts input with or without padding.
func (a AttestationCOSEURLBase64) Decode() (AttestationCOSE, error) {
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(string(a), "="))
	if err != nil {
		return nil, fmt.Errorf("decode base64url: %w", err)
	}
	return AttestationCOSE(data), nil
}

func (a AttestationCOSEGzip) Decompress() (AttestationCOSE, error) {
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(string(a), "="))
	if err != nil {
		return nil, fmt.Errorf("decode base64url: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("read gzip data: %w", err)
	}
	return AttestationCOSE(raw), nil
}

// ParseAttestationDoc decodes the attestation document and returns it along
// with the raw user data it carries.
func (a AttestationCOSE) ParseAttestationDoc() (AttestationDoc, []byte, error) {
	raw, err := parsing.ParseNitroDocument(a)
	if err != nil {
		return AttestationDoc{}, nil, err
	}

	doc := AttestationDoc{
		ModuleID:        raw.ModuleID,
		Timestamp:       time.UnixMilli(int64(raw.Timestamp)).UTC(),
		DigestAlgorithm: raw.Digest,
		PCRs:            pcrsFromRaw(raw.PCRs),
		CABundle:        parsing.EncodeCertificateBundle(raw.CABundle),
		Nonce:           string(raw.Nonce),
	}
	if len(raw.Certificate) > 0 {
		doc.Certificate = base64.StdEncoding.EncodeToString(raw.Certificate)
	}
	if len(raw.PublicKey) > 0 {
		doc.PublicKey = base64.StdEncoding.EncodeToString(raw.PublicKey)
	}
	return doc, raw.UserData, nil
}

// ParseSettlementAttestation decodes an attestation produced when the auction
// closed.
func (a AttestationCOSE) ParseSettlementAttestation() (*SettlementAttestationDoc, error) {
	doc, userData, err := a.ParseAttestationDoc()
	if err != nil {
		return nil, err
	}
	result := &SettlementAttestationDoc{AttestationDoc: doc}
	if len(userData) == 0 {
		return result, nil
	}
	var ud SettlementUserData
	if err := json.Unmarshal(userData, &ud); err != nil {
		return nil, fmt.Errorf("parse user data: %w", err)
	}
	result.UserData = &ud
	return result, nil
}

func pcrsFromRaw(raw map[uint64][]byte) PCRs {
	return PCRs{
		ImageFileHash:   parsing.FormatPCR(raw[0]),
		KernelHash:      parsing.FormatPCR(raw[1]),
		ApplicationHash: parsing.FormatPCR(raw[2]),
		IAMRoleHash:     parsing.FormatPCR(raw[3]),
		InstanceIDHash:  parsing.FormatPCR(raw[4]),
		SigningCertHash: parsing.FormatPCR(raw[8]),
	}
}

// PCRs represents the Platform Configuration Registers from AWS Nitro Enclaves
type PCRs struct {
	// PCR0: Hash of the Enclave Image File (EIF)
	ImageFileHash string `json:"0"`

	// PCR1: Hash of the Linux kernel and initial RAM data (initramfs)
	KernelHash string `json:"1"`

	// PCR2: Hash of user applications, excluding the boot ramfs
	ApplicationHash string `json:"2"`

	// PCR3: Hash of the IAM role assigned to the parent instance
	IAMRoleHash string `json:"3"`

	// PCR4: Hash of the parent instance's ID
	InstanceIDHash string `json:"4"`

	// PCR8: Hash of the enclave image file's signing certificate
	SigningCertHash string `json:"8,omitempty"`
}

// AttestationDoc is the decoded, JSON friendly form of a Nitro attestation.
type AttestationDoc struct {
	ModuleID        string    `json:"module_id"`
	Timestamp       time.Time `json:"timestamp"`
	DigestAlgorithm string    `json:"digest"`
	PCRs            PCRs      `json:"pcrs"`

	// Certificate and CABundle are base64 DER.
	Certificate string   `json:"certificate"`
	CABundle    []string `json:"cabundle"`

	PublicKey string `json:"public_key,omitempty"`
	Nonce     string `json:"nonce"`
}

// SettlementAttestationDoc is the attestation produced when the auction closes.
type SettlementAttestationDoc struct {
	AttestationDoc
	UserData *SettlementUserData `json:"user_data"`
}

// SettlementUserData is the settlement record embedded in a close attestation.
//
// EntryHashes lists core.ComputeEntryHash for every ledger entry in ranking
// order, so a bidder can check their own entry was counted without the
// attestation revealing anyone else's identity.
type SettlementUserData struct {
	Owner         core.Identity `json:"owner"`
	Commodity     string        `json:"commodity"`
	State         core.State    `json:"state"`
	Winner        core.Identity `json:"winner,omitempty"`
	WinningAmount core.Amount   `json:"winning_amount"`
	Payout        core.Amount   `json:"payout"`

	EntryHashes    []string `json:"entry_hashes"`
	HashNonce      string   `json:"hash_nonce"`
	LedgerHash     string   `json:"ledger_hash"`
	SettlementHash string   `json:"settlement_hash"`

	Timestamp time.Time `json:"timestamp"`
}
