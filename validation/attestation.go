package validation

import (
	"github.com/cloudx-io/openbidding/auctionapi"
)

// validateCommonAttestation checks the PCRs, certificate chain and signature
// of an attestation whose document has already been parsed.
func validateCommonAttestation(coseBytes auctionapi.AttestationCOSE, doc auctionapi.AttestationDoc, knownPCRs []PCRSet) *BaseValidationResult {
	result := &BaseValidationResult{ValidationDetails: []string{}}

	pcrMatch, matchedSet := ValidatePCRs(doc.PCRs, knownPCRs)
	result.PCRsValid = pcrMatch
	if !pcrMatch {
		result.addDetail("PCR0: %s (no match)", doc.PCRs.ImageFileHash)
		result.addDetail("PCR1: %s (no match)", doc.PCRs.KernelHash)
		result.addDetail("PCR2: %s (no match)", doc.PCRs.ApplicationHash)
	} else {
		result.addDetail("PCR measurements valid")
		result.addDetail("Matched PCR set: #%d (commit: %s)", matchedSet, knownPCRs[matchedSet].CommitHash)
	}

	switch {
	case doc.Certificate == "":
		result.addDetail("Missing certificate")
	case len(doc.CABundle) == 0:
		result.addDetail("Missing CA bundle")
	default:
		if err := ValidateCertificateChain(doc.Certificate, doc.CABundle, doc.Timestamp); err != nil {
			result.addDetail("Certificate chain validation failed: %v", err)
		} else {
			result.CertificateValid = true
			result.addDetail("Certificate chain verified")
		}
	}

	if err := VerifyCOSESignature(coseBytes, doc.Certificate); err != nil {
		result.addDetail("COSE signature verification failed: %v", err)
	} else {
		result.SignatureValid = true
		result.addDetail("COSE signature verified")
	}

	return result
}

