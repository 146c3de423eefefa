package normalize

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/cognicore/yelpetl/pkg/yelp/business"
)

// cleanCity removes commas and repeated whitespace but keeps the source case.
func cleanCity(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, ",", "")
	return strings.Join(strings.Fields(s), " ")
}

// City returns the warehouse form of a city name: comma free, single spaced
// and lower case.
func City(s string) string {
	// Casers keep state; build one per call so workers never share it.
	return cases.Lower(language.AmericanEnglish).String(cleanCity(s))
}

// Address composes "address1[ address2], city state zip". Source case is
// kept; a missing address1 leaves no leading separator.
func Address(loc business.Location) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(loc.Address1))
	if loc.Address2 != nil {
		if a2 := strings.TrimSpace(*loc.Address2); a2 != "" {
			b.WriteString(" ")
			b.WriteString(a2)
		}
	}
	b.WriteString(", ")
	b.WriteString(cleanCity(loc.City))
	b.WriteString(" ")
	b.WriteString(strings.TrimSpace(loc.State))
	b.WriteString(" ")
	b.WriteString(strings.TrimSpace(loc.ZipCode))
	return strings.TrimSpace(strings.TrimLeft(b.String(), ", "))
}
