package dom

import (
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	// ErrChallenge means the site served a bot check instead of the page.
	ErrChallenge = errors.New("blocked by a verification challenge, open the site in a browser and retry")

	// ErrLoggedOut means the site served its login form; the saved session
	// has expired.
	ErrLoggedOut = errors.New("not logged in, run \"web-agent auth\" for this site")
)

// challengeMarkers maps selectors that only appear on bot-check pages to the
// name reported for them.
var challengeMarkers = []struct {
	selector string
	kind     string
}{
	{`.g-recaptcha, iframe[src*="recaptcha"]`, "recaptcha"},
	{`.h-captcha, iframe[src*="hcaptcha"]`, "hcaptcha"},
	{`.cf-turnstile, iframe[src*="challenges.cloudflare.com"]`, "cloudflare_turnstile"},
	{`#challenge-form, #cf-challenge-running`, "cloudflare_challenge"},
}

// DetectChallenge returns the kind of bot check on doc, or "".
func DetectChallenge(doc *goquery.Document) string {
	for _, m := range challengeMarkers {
		if doc.Find(m.selector).Length() > 0 {
			return m.kind
		}
	}
	title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	if strings.HasPrefix(title, "just a moment") || strings.Contains(title, "attention required") {
		return "cloudflare_challenge"
	}
	return ""
}

// isLoginPage reports a page whose main content is a password form.
func isLoginPage(doc *goquery.Document) bool {
	return doc.Find(`form input[type="password"]`).Length() > 0
}

// explainEmpty tells why a page expected to hold content came back without
// it, or returns nil when the page looks genuine.
func explainEmpty(doc *goquery.Document) error {
	if kind := DetectChallenge(doc); kind != "" {
		return &challengeError{kind: kind}
	}
	if isLoginPage(doc) {
		return ErrLoggedOut
	}
	return nil
}

type challengeError struct{ kind string }

func (e *challengeError) Error() string { return ErrChallenge.Error() + " (" + e.kind + ")" }
func (e *challengeError) Unwrap() error { return ErrChallenge }
