package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/project-tktt/immo-crawler/internal/domain"
)

// Result counts what each pass removed
type Result struct {
	Listings     []domain.Listing
	URLDupes     int
	ContentDupes int
}

// Signature identifies an advertisement independently of its URL
func Signature(l domain.Listing) string {
	return hashContent(l.Title + "_" + strconv.Itoa(l.PriceEUR) + "_" + l.LocationText)
}

// ByURL keeps the first listing of every URL
func ByURL(listings []domain.Listing) []domain.Listing {
	return keepFirst(listings, func(l domain.Listing) string { return l.URL })
}

// BySignature keeps the first listing of every signature
func BySignature(listings []domain.Listing) []domain.Listing {
	return keepFirst(listings, Signature)
}

// Deduplicate runs the URL pass then the signature pass. Input order
// decides which copy survives.
func Deduplicate(listings []domain.Listing) Result {
	byURL := ByURL(listings)
	out := BySignature(byURL)
	return Result{
		Listings:     out,
		URLDupes:     len(listings) - len(byURL),
		ContentDupes: len(byURL) - len(out),
	}
}

func keepFirst(listings []domain.Listing, key func(domain.Listing) string) []domain.Listing {
	seen := make(map[string]struct{}, len(listings))
	out := make([]domain.Listing, 0, len(listings))
	for _, l := range listings {
		k := key(l)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, l)
	}
	return out
}

func hashContent(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:16]) // First 16 bytes (32 hex chars)
}
