// Package secrets rejects entry content that looks like credential
// material before it can reach storage.
package secrets

import (
	"errors"
	"fmt"
	"math"
	"regexp"

	"github.com/charmbracelet/log"

	"github.com/mleone/durmem/internal/model"
)

// ErrSecretDetected marks a rejection caused by a sensitive-pattern match.
// The error text names the category and field but never the matched text.
var ErrSecretDetected = errors.New("secret detected")

// Category names a sensitive-pattern class.
type Category string

const (
	CategoryAWSAccessKey     Category = "cloud-access-key"
	CategoryPrivateKey       Category = "private-key"
	CategoryBearerToken      Category = "bearer-token"
	CategoryConnectionString Category = "connection-string-credential"
	CategoryHighEntropy      Category = "high-entropy-token"
)

type pattern struct {
	category Category
	re       *regexp.Regexp
	// entropy-gated patterns only flag when the match is high-entropy,
	// to keep ordinary long identifiers out of the net
	minEntropy float64
}

var patterns = []pattern{
	{category: CategoryPrivateKey, re: regexp.MustCompile(`-----BEGIN (?:[A-Z]+ )?PRIVATE KEY-----`)},
	{category: CategoryAWSAccessKey, re: regexp.MustCompile(`\b(?:AKIA|ASIA|ABIA|ACCA)[A-Z0-9]{16}\b`)},
	{category: CategoryBearerToken, re: regexp.MustCompile(`(?i)\b(?:bearer|authorization:)\s+[A-Za-z0-9\-._~+/]{20,}=*`)},
	{category: CategoryConnectionString, re: regexp.MustCompile(`\b[a-zA-Z][a-zA-Z0-9+.-]*://[^/\s:@]+:[^@\s]+@\S+`)},
	{category: CategoryHighEntropy, re: regexp.MustCompile(`\b[A-Za-z0-9+/_-]{40,}\b`), minEntropy: 4.2},
}

// Scan checks text against the pattern bank. It returns the category of
// the first match and true, or "" and false when the text is clean.
func Scan(text string) (Category, bool) {
	for _, p := range patterns {
		if p.minEntropy > 0 {
			for _, m := range p.re.FindAllString(text, -1) {
				if shannonEntropy(m) >= p.minEntropy {
					return p.category, true
				}
			}
			continue
		}
		if p.re.MatchString(text) {
			return p.category, true
		}
	}
	return "", false
}

// ScanEntry applies Scan to the entry's content and to every evidence
// URI. On a match it logs a detection event (category and field only, no
// payload) and returns an error wrapping ErrSecretDetected.
func ScanEntry(e *model.Entry) error {
	if cat, ok := Scan(e.Content); ok {
		return reject(cat, "content")
	}
	for i, ev := range e.Evidence {
		if cat, ok := Scan(ev.URI); ok {
			return reject(cat, fmt.Sprintf("evidence[%d].uri", i))
		}
	}
	return nil
}

func reject(cat Category, field string) error {
	log.Warn("secret detection", "category", cat, "field", field)
	return fmt.Errorf("%w: %s in %s", ErrSecretDetected, cat, field)
}

func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	var freq [256]int
	for i := 0; i < len(s); i++ {
		freq[s[i]]++
	}
	var h float64
	n := float64(len(s))
	for _, c := range freq {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}
