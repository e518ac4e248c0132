// Command settlement-validator checks the attestation an auction daemon
// returns when it closes an auction.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloudx-io/openbidding/auctionapi"
	"github.com/cloudx-io/openbidding/core"
	"github.com/cloudx-io/openbidding/validation"
)

const (
	exitFailed = 1
	exitError  = 2
)

// errValidationFailed is returned when the attestation was checked and at
// least one check failed.
var errValidationFailed = errors.New("validation failed")

type options struct {
	attestation string
	encoding    string
	bidder      string
	amount      uint64
	winner      bool
	payout      uint64
	owner       string
	commodity   string
	bids        string
	pcrs        string
	format      string
}

func main() {
	err := newRootCommand(os.Stdout).Execute()
	switch {
	case err == nil:
	case errors.Is(err, errValidationFailed):
		os.Exit(exitFailed)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "settlement-validator",
		Short: "Validate the attestation produced when an auction closed",
		Long: `Validates a settlement attestation against known PCR measurements, the
AWS Nitro root certificate and the bidder's own view of the auction.

Exit codes:
  0  validation passed
  1  validation failed
  2  invalid input or runtime error`,
		Example: `  settlement-validator --attestation close.b64 --bidder sender2 --amount 20 --winner
  settlement-validator --attestation close.b64 --bidder sender1 --amount 10 \
    --bids '[{"address":"sender2","amount":20},{"address":"sender1","amount":10}]' --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			input, err := buildInput(cmd, opts)
			if err != nil {
				return err
			}
			result, err := validation.ValidateSettlementAttestation(input)
			if err != nil {
				return err
			}
			if err := writeResult(out, opts.format, result); err != nil {
				return err
			}
			if !result.IsValid() {
				return errValidationFailed
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.attestation, "attestation", "", "attestation (file path or inline)")
	f.StringVar(&opts.encoding, "encoding", "base64", "attestation encoding: base64, base64url or gzip")
	f.StringVar(&opts.bidder, "bidder", "", "bidder address to look for")
	f.Uint64Var(&opts.amount, "amount", 0, "bidder's cumulative deposit at close")
	f.BoolVar(&opts.winner, "winner", false, "expect the bidder to have won")
	f.Uint64Var(&opts.payout, "payout", 0, "expected payout to the owner")
	f.StringVar(&opts.owner, "owner", "", "expected auction owner")
	f.StringVar(&opts.commodity, "commodity", "", "expected commodity")
	f.StringVar(&opts.bids, "bids", "", "ranking at close as JSON (file path or inline)")
	f.StringVar(&opts.pcrs, "pcrs", validation.DefaultPCRConfigPath(), "known PCR sets")
	f.StringVar(&opts.format, "format", "text", "output format: text or json")
	_ = cmd.MarkFlagRequired("attestation")
	_ = cmd.MarkFlagRequired("bidder")

	return cmd
}

func buildInput(cmd *cobra.Command, opts options) (*validation.SettlementValidationInput, error) {
	if opts.format != "text" && opts.format != "json" {
		return nil, fmt.Errorf("unknown format %q", opts.format)
	}

	attestation, err := decodeAttestation(readInput(opts.attestation), opts.encoding)
	if err != nil {
		return nil, fmt.Errorf("read attestation: %w", err)
	}

	knownPCRs, err := validation.LoadPCRsFromFile(opts.pcrs)
	if err != nil {
		return nil, err
	}

	input := &validation.SettlementValidationInput{
		Attestation: attestation,
		Bidder:      core.Identity(opts.bidder),
		Amount:      core.Amount(opts.amount),
		IsWinner:    opts.winner,
		Owner:       core.Identity(opts.owner),
		Commodity:   opts.commodity,
		KnownPCRs:   knownPCRs,
	}
	if cmd.Flags().Changed("payout") {
		payout := core.Amount(opts.payout)
		input.Payout = &payout
	}
	if opts.bids != "" {
		if err := json.Unmarshal(readInput(opts.bids), &input.Bids); err != nil {
			return nil, fmt.Errorf("parse bids: %w", err)
		}
		if input.Bids == nil {
			input.Bids = []core.Bid{}
		}
	}
	return input, nil
}

// readInput returns the contents of the file named by input, or input itself
// when no such file exists.
func readInput(input string) []byte {
	if data, err := os.ReadFile(input); err == nil {
		return data
	}
	return []byte(input)
}

func decodeAttestation(raw []byte, encoding string) (auctionapi.AttestationCOSE, error) {
	s := strings.TrimSpace(string(raw))
	switch encoding {
	case "base64":
		return auctionapi.AttestationCOSEBase64(s).Decode()
	case "base64url":
		return auctionapi.AttestationCOSEURLBase64(s).Decode()
	case "gzip":
		return auctionapi.AttestationCOSEGzip(s).Decompress()
	default:
		return nil, fmt.Errorf("unknown encoding %q", encoding)
	}
}

func writeResult(w io.Writer, format string, result *validation.SettlementValidationResult) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"valid":             result.IsValid(),
			"pcrs_valid":        result.PCRsValid,
			"certificate_valid": result.CertificateValid,
			"signature_valid":   result.SignatureValid,
			"entry_included":    result.EntryIncluded,
			"ledger_hash_valid": result.LedgerHashValid,
			"settlement_valid":  result.SettlementValid,
			"winner_valid":      result.WinnerValid,
			"payout_valid":      result.PayoutValid,
			"details":           result.ValidationDetails,
		})
	}

	fmt.Fprintln(w, "Settlement Attestation Validator")
	fmt.Fprintln(w, "================================")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Summary:")
	fmt.Fprintf(w, "  PCRs Valid:          %v\n", result.PCRsValid)
	fmt.Fprintf(w, "  Certificate Valid:   %v\n", result.CertificateValid)
	fmt.Fprintf(w, "  Signature Valid:     %v\n", result.SignatureValid)
	fmt.Fprintf(w, "  Entry Included:      %v\n", result.EntryIncluded)
	fmt.Fprintf(w, "  Ledger Hash Valid:   %v\n", result.LedgerHashValid)
	fmt.Fprintf(w, "  Settlement Valid:    %v\n", result.SettlementValid)
	fmt.Fprintf(w, "  Winner Valid:        %v\n", result.WinnerValid)
	fmt.Fprintf(w, "  Payout Valid:        %v\n", result.PayoutValid)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Details:")
	for _, detail := range result.ValidationDetails {
		fmt.Fprintf(w, "  - %s\n", detail)
	}
	fmt.Fprintln(w)
	if result.IsValid() {
		fmt.Fprintln(w, "VALIDATION: PASSED")
	} else {
		fmt.Fprintln(w, "VALIDATION: FAILED")
	}
	return nil
}
