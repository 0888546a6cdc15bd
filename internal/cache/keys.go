package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Key derives a deterministic cache key from the full set of parameters
// that affect a result. SHA-256 keeps accidental collisions negligible.
func Key(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// PRPageKey identifies one page of a merged-PR listing for a branch
func PRPageKey(org, repo, branch string, since time.Time, page, perPage int) string {
	return Key("pr-page", org, repo, branch, since.UTC().Format(time.RFC3339), strconv.Itoa(page), strconv.Itoa(perPage))
}

// CommitsPageKey identifies one page of a PR's commit listing
func CommitsPageKey(org, repo string, prNumber, page int) string {
	return Key("commits-page", org, repo, strconv.Itoa(prNumber), strconv.Itoa(page))
}

// RecordKey identifies an assembled aggregation record for a full request
func RecordKey(org, repo string, branches []string, since, until time.Time) string {
	sorted := append([]string(nil), branches...)
	// Branch order must not change the key
	sort.Strings(sorted)
	parts := []string{"record", org, repo, strings.Join(sorted, ","), since.UTC().Format(time.RFC3339), until.UTC().Format(time.RFC3339)}
	return Key(parts...)
}

// PayloadKey identifies generated content by the exact prompt payload
func PayloadKey(strategy, system, user string) string {
	return Key("generated", strategy, system, user)
}
