package domain

import "time"

type FindingKind string

const (
	FindingContentMismatch  FindingKind = "ContentMismatch"
	FindingSignatureInvalid FindingKind = "SignatureInvalid"
	FindingChainBroken      FindingKind = "ChainBroken"
	FindingSequenceGap      FindingKind = "SequenceGap"
)

// Finding is one piece of tamper evidence produced by a chain verification.
type Finding struct {
	SequenceNumber int64       `json:"sequence_number"`
	Kind           FindingKind `json:"kind"`
	Expected       string      `json:"expected"`
	Actual         string      `json:"actual"`
	Message        string      `json:"message"`
}

type VerificationReport struct {
	Valid    bool      `json:"valid"`
	Start    int64     `json:"start"`
	End      int64     `json:"end"`
	Checked  int       `json:"checked"`
	Findings []Finding `json:"findings"`
	// KeyUsage counts how many records each signing key validated.
	KeyUsage   map[string]int `json:"key_usage"`
	VerifiedAt time.Time      `json:"verified_at"`
}
