package safety

import "strings"

// IllegalScanner is the pre-/post-extraction illegal-content scanner
// list: lower-case the input once, substring-match each
// configured keyword, and flag illegal when matches reach the
// configured minimum.
type IllegalScanner struct {
	keywords   []string
	minMatches int
}

// NewIllegalScanner builds a scanner from a keyword list and the minimum
// number of distinct keyword hits required to flag content illegal
// (safety.illegal_content.min_keyword_matches, default 1).
func NewIllegalScanner(keywords []string, minMatches int) IllegalScanner {
	if minMatches < 1 {
		minMatches = 1
	}
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k != "" {
			lowered = append(lowered, strings.ToLower(k))
		}
	}
	return IllegalScanner{keywords: lowered, minMatches: minMatches}
}

// Scan lower-cases text once and checks it against every configured
// keyword, returning every distinct match found.
func (s IllegalScanner) Scan(text string) IllegalScanResult {
	if len(s.keywords) == 0 {
		return IllegalScanResult{}
	}
	lowered := strings.ToLower(text)

	var matches []string
	for _, keyword := range s.keywords {
		if strings.Contains(lowered, keyword) {
			matches = append(matches, keyword)
		}
	}

	if len(matches) >= s.minMatches {
		return IllegalScanResult{
			Illegal: true,
			Reason:  "illegal keyword match",
			Matches: matches,
		}
	}
	return IllegalScanResult{Matches: matches}
}
