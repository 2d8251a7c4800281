package robokassa

import (
	"fmt"
	"strconv"
	"strings"
)

// defaultAlgo is the algorithm used when none is specified.
// Robokassa recommends SHA256 for all new integrations.
const defaultAlgo = HashSHA256

// WebhookPayload represents RoboKassa webhook (ResultURL) data.
// RoboKassa sends data as form parameters, not JSON.
type WebhookPayload struct {
	OutSum         string            // Payment amount
	InvId          int64             // Invoice ID
	SignatureValue string            // Signature to verify (CRC)
	Shp            map[string]string // Custom parameters
}

// VerifyResultSignature validates webhook signature from RoboKassa ResultURL.
// Signature format: SHA256(OutSum:InvId:Password2[:Shp_params])
func VerifyResultSignature(outSum string, invID int64, signature string, password2 string, shpParams map[string]string) bool {
	return VerifyResultSignatureWithAlgo(outSum, invID, signature, password2, shpParams, defaultAlgo)
}

// VerifyResultSignatureWithAlgo validates webhook signature with a specific hash algorithm.
func VerifyResultSignatureWithAlgo(outSum string, invID int64, signature string, password2 string, shpParams map[string]string, algo HashAlgorithm) bool {
	if password2 == "" || signature == "" {
		return false
	}

	base := BuildResultSignatureBase(outSum, strconv.FormatInt(invID, 10), password2, shpParams)

	expected, err := Sign(base, algo)
	if err != nil {
		return false
	}

	return VerifySignature(expected, signature)
}

// ParseWebhookForm parses form-encoded webhook data into structured payload
func ParseWebhookForm(formValues map[string][]string) (*WebhookPayload, error) {
	outSumStr := getFirstValue(formValues, "OutSum")
	invIDStr := getFirstValue(formValues, "InvId")
	signature := getFirstValue(formValues, "SignatureValue")

	if outSumStr == "" {
		return nil, fmt.Errorf("OutSum is required")
	}
	if invIDStr == "" {
		return nil, fmt.Errorf("InvId is required")
	}
	if signature == "" {
		return nil, fmt.Errorf("SignatureValue is required")
	}

	invID, err := strconv.ParseInt(invIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid InvId: %w", err)
	}

	// Extract custom parameters (Shp_*), preserving original key casing
	// because key casing is part of the signature base string.
	shp := make(map[string]string)
	for key, values := range formValues {
		if !strings.HasPrefix(strings.ToLower(key), "shp_") || len(values) == 0 {
			continue
		}
		shp[key] = values[0]
	}

	return &WebhookPayload{
		OutSum:         outSumStr,
		InvId:          invID,
		SignatureValue: signature,
		Shp:            shp,
	}, nil
}

// getFirstValue extracts the first value from form values (case-insensitive lookup)
func getFirstValue(values map[string][]string, key string) string {
	for k, v := range values {
		if strings.EqualFold(k, key) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}
