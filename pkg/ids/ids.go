// Package ids mints prefixed opaque identifiers. Every entity class has a
// short prefix so an id is self-describing in logs and event payloads.
package ids

import (
	"strings"

	"github.com/google/uuid"
)

// Entity prefixes. The prefix is part of the wire contract: clients match
// on it and cross-process tests assert it.
const (
	PrefixEvent          = "evt"
	PrefixAgent          = "agt"
	PrefixCorrelation    = "cor"
	PrefixMessage        = "msg"
	PrefixArtifact       = "art"
	PrefixRun            = "run"
	PrefixStep           = "stp"
	PrefixRoom           = "rm"
	PrefixThread         = "thr"
	PrefixLesson         = "les"
	PrefixApproval       = "apr"
	PrefixScorecard      = "sc"
	PrefixPrincipal      = "prn"
	PrefixEgressRequest  = "egr"
	PrefixConstraint     = "cst"
	PrefixRecommendation = "rec"
	PrefixSkillPackage   = "skp"
	PrefixToolCall       = "tlc"
)

// New returns a fresh id of the form "<prefix>_<uuid-without-dashes>".
func New(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// HasPrefix reports whether id carries the given entity prefix.
func HasPrefix(id, prefix string) bool {
	return strings.HasPrefix(id, prefix+"_")
}
