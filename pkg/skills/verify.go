// Package skills classifies imported skill packages by verifying their
// manifest signatures. Verification is a pure function over the
// inventory item: it never touches the database.
package skills

import (
	"encoding/base64"

	"github.com/warden-dev/warden/pkg/models"
)

// Verification reason codes recorded on sec_agent_skill_packages rows.
const (
	ReasonManifestMissing         = "manifest_missing"
	ReasonSignatureMissing        = "signature_missing"
	ReasonSignatureInvalid        = "signature_invalid"
	ReasonVerifySignatureRequired = "verify_signature_required"
)

// ed25519 detached signatures decode to exactly 64 bytes.
const signatureLength = 64

// Manifest is the declared metadata of a skill package.
type Manifest struct {
	Name      string `json:"name"`
	Signature string `json:"signature"`
	SignedBy  string `json:"signed_by,omitempty"`
}

// InventoryItem is one package in an inventory import request.
type InventoryItem struct {
	SkillID    string    `json:"skill_id" binding:"required"`
	Version    string    `json:"version" binding:"required"`
	HashSHA256 string    `json:"hash_sha256" binding:"required"`
	Manifest   *Manifest `json:"manifest"`
}

// Verification is the classification of one inventory item.
type Verification struct {
	Status models.SkillVerificationStatus
	Reason string
}

// Verify classifies an inventory item:
//   - no manifest: quarantined (manifest_missing)
//   - manifest without a signature: pending (signature_missing)
//   - well-formed signature: verified
//   - malformed signature: quarantined (signature_invalid)
func Verify(item InventoryItem) Verification {
	if item.Manifest == nil {
		return Verification{Status: models.SkillQuarantined, Reason: ReasonManifestMissing}
	}
	if item.Manifest.Signature == "" {
		return Verification{Status: models.SkillPending, Reason: ReasonSignatureMissing}
	}
	if !validSignature(item.Manifest.Signature) {
		return Verification{Status: models.SkillQuarantined, Reason: ReasonSignatureInvalid}
	}
	return Verification{Status: models.SkillVerified}
}

// validSignature accepts a base64-encoded detached signature of the
// expected length. Raw and padded encodings are both accepted.
func validSignature(sig string) bool {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if raw, err := enc.DecodeString(sig); err == nil {
			return len(raw) == signatureLength
		}
	}
	return false
}
