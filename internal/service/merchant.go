package service

import (
	"regexp"
	"sort"
	"strings"
)

// knownMerchants maps lowercase merchant keywords to their canonical names.
var knownMerchants = map[string]string{
	// Groceries
	"woolworths":  "Woolworths",
	"coles":       "Coles",
	"aldi":        "Aldi",
	"costco":      "Costco",
	"whole foods": "Whole Foods",
	"trader joe":  "Trader Joe's",

	// Dining
	"mcdonalds":   "McDonald's",
	"mcdonald's":  "McDonald's",
	"starbucks":   "Starbucks",
	"kfc":         "KFC",
	"burger king": "Burger King",
	"dominos":     "Domino's",
	"pizza hut":   "Pizza Hut",
	"uber eats":   "Uber Eats",
	"doordash":    "DoorDash",
	"deliveroo":   "Deliveroo",
	"grubhub":     "Grubhub",

	// Transport
	"uber":    "Uber",
	"lyft":    "Lyft",
	"shell":   "Shell",
	"chevron": "Chevron",
	"exxon":   "Exxon",

	// Subscriptions
	"netflix":         "Netflix",
	"spotify":         "Spotify",
	"disney+":         "Disney+",
	"hulu":            "Hulu",
	"amazon prime":    "Amazon Prime",
	"hbo max":         "HBO Max",
	"youtube premium": "YouTube Premium",

	// Shopping
	"amazon":  "Amazon",
	"ebay":    "eBay",
	"target":  "Target",
	"walmart": "Walmart",
	"ikea":    "IKEA",

	// Utilities
	"verizon":  "Verizon",
	"at&t":     "AT&T",
	"t-mobile": "T-Mobile",
	"comcast":  "Comcast",
	"vodafone": "Vodafone",

	// Travel
	"airbnb":      "Airbnb",
	"booking.com": "Booking.com",
	"expedia":     "Expedia",
	"marriott":    "Marriott",
	"hilton":      "Hilton",
}

var (
	merchantPrefix  = regexp.MustCompile(`(?i)^(pos |eftpos |visa |mastercard |amex |paypal \*)`)
	merchantSuffix  = regexp.MustCompile(`(?i)(\s+(pty|ltd|inc|corp|llc)\.?)+$`)
	merchantNumbers = regexp.MustCompile(`\d{6,}`)
	merchantSymbols = regexp.MustCompile(`[*#]+`)
)

type merchantMatcher struct {
	pattern *regexp.Regexp
	name    string
}

// merchantMatchers tries longer keywords first so "uber eats" wins over "uber".
var merchantMatchers = func() []merchantMatcher {
	keys := make([]string, 0, len(knownMerchants))
	for k := range knownMerchants {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	matchers := make([]merchantMatcher, len(keys))
	for i, k := range keys {
		matchers[i] = merchantMatcher{
			pattern: regexp.MustCompile(`(^|[^a-z0-9])` + regexp.QuoteMeta(k) + `($|[^a-z0-9])`),
			name:    knownMerchants[k],
		}
	}
	return matchers
}()

// cleanMerchant strips card-network prefixes, company suffixes, reference
// numbers and separator symbols from a statement descriptor.
func cleanMerchant(raw string) string {
	cleaned := strings.TrimSpace(raw)
	cleaned = merchantPrefix.ReplaceAllString(cleaned, "")
	cleaned = merchantSymbols.ReplaceAllString(cleaned, " ")
	cleaned = merchantNumbers.ReplaceAllString(cleaned, "")
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	cleaned = merchantSuffix.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

// NormalizeMerchant maps a raw statement descriptor to a stable merchant
// name so repeated charges group together. Known merchants get their
// canonical name unless the rest of the descriptor carries a gray-charge
// keyword ("Spotify Premium" stays as is); anything else keeps its own
// casing with the noise removed.
func NormalizeMerchant(raw string) string {
	cleaned := cleanMerchant(raw)
	if cleaned == "" {
		return strings.TrimSpace(raw)
	}
	lower := strings.ToLower(cleaned)
	for _, m := range merchantMatchers {
		loc := m.pattern.FindStringIndex(lower)
		if loc == nil {
			continue
		}
		if hasGrayKeyword(lower[:loc[0]] + " " + lower[loc[1]:]) {
			return cleaned
		}
		return m.name
	}
	return cleaned
}

func hasGrayKeyword(lower string) bool {
	for _, kw := range grayChargeKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
