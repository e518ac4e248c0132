package validation

import "fmt"

// BaseValidationResult contains the checks common to every attestation.
type BaseValidationResult struct {
	PCRsValid         bool
	CertificateValid  bool
	SignatureValid    bool
	ValidationDetails []string
}

func (r *BaseValidationResult) addDetail(format string, args ...any) {
	if len(args) == 0 {
		r.ValidationDetails = append(r.ValidationDetails, format)
		return
	}
	r.ValidationDetails = append(r.ValidationDetails, fmt.Sprintf(format, args...))
}

// SettlementValidationResult contains the results of validating the
// attestation produced when an auction closed.
type SettlementValidationResult struct {
	BaseValidationResult

	// EntryIncluded: the bidder's entry hash is among the attested ones.
	EntryIncluded bool
	// LedgerHashValid: the supplied ranking hashes to the attested ledger hash.
	LedgerHashValid bool
	// SettlementValid: the attested outcome is closed, self-consistent and
	// matches the expected owner and commodity.
	SettlementValid bool
	// WinnerValid: the bidder won or lost as expected.
	WinnerValid bool
	// PayoutValid: the attested payout equals the expected one.
	PayoutValid bool
}

// IsValid returns true if all settlement validation checks passed
func (r *SettlementValidationResult) IsValid() bool {
	return r.PCRsValid && r.CertificateValid && r.SignatureValid &&
		r.EntryIncluded && r.LedgerHashValid && r.SettlementValid &&
		r.WinnerValid && r.PayoutValid
}

// PCRSet represents a known-good set of PCR measurements
type PCRSet struct {
	PCR0       string `json:"pcr0"`
	PCR1       string `json:"pcr1"`
	PCR2       string `json:"pcr2"`
	CommitHash string `json:"commit_hash"` // commit the enclave image was built from
}

// PCRConfig represents the PCR configuration file structure
type PCRConfig struct {
	PCRSets []PCRSet `json:"pcr_sets"`
}
