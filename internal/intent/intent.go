// Package intent classifies inbound customer text messages into lifecycle
// actions. Classification is an ordered list of (predicate, intent) pairs
// evaluated first-match-wins; the slice order IS the precedence.
package intent

import "regexp"

type Intent string

const (
	IntentPause   Intent = "pause"
	IntentResume  Intent = "resume"
	IntentSkip    Intent = "skip"
	IntentRenew   Intent = "renew"
	IntentBalance Intent = "balance"
	IntentUnknown Intent = "unknown"
)

type rule struct {
	predicate *regexp.Regexp
	intent    Intent
}

// Ordered: skip before pause so "skip tomorrow, don't pause" reads as a
// skip; balance queries before renew so "how many days till I pay" is not
// treated as a payment request.
var rules = []rule{
	{regexp.MustCompile(`(?i)\bskip\b|\bno\s+(tiffin|meal|lunch|dinner|breakfast)\b`), IntentSkip},
	{regexp.MustCompile(`(?i)\bpause\b|\bhold\b|\bstop\s+(my\s+)?(tiffin|meals?|service)\b`), IntentPause},
	{regexp.MustCompile(`(?i)\bresume\b|\brestart\b|\bunpause\b`), IntentResume},
	{regexp.MustCompile(`(?i)\bbalance\b|\bdays\s+(left|remaining)\b|\bremaining\s+days\b`), IntentBalance},
	{regexp.MustCompile(`(?i)\brenew\b|\brecharge\b|\bpay(ment)?\b|\bextend\b`), IntentRenew},
}

// Classify returns the first matching intent, or IntentUnknown.
func Classify(message string) Intent {
	for _, r := range rules {
		if r.predicate.MatchString(message) {
			return r.intent
		}
	}
	return IntentUnknown
}
