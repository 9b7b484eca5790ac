package security

import (
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/forest6511/sealbox/pkg/crypto"
	"github.com/forest6511/sealbox/pkg/vault"
)

// DefaultExpirationDays is the password age after which a secret is
// reported as expired.
const DefaultExpirationDays = 90

// expiryWarningDays is how long before expiry a secret is reported as
// expiring soon.
const expiryWarningDays = 14

// SecurityScore represents the overall security assessment of a vault.
type SecurityScore struct {
	// Overall is the total score (0-100).
	Overall int `json:"overall"`
	// Components breaks down the score into categories.
	Components ScoreComponents `json:"components"`
	// Issues contains the detected security issues.
	Issues []SecurityIssue `json:"issues"`
	// Duplicates lists the groups of entries sharing a password.
	Duplicates []DuplicateGroup `json:"duplicates"`
	// Suggestions provides actionable recommendations.
	Suggestions []string `json:"suggestions"`
	// Limited indicates some issues were left out of Issues.
	Limited bool `json:"limited"`
	// Checked is the number of password entries evaluated.
	Checked int `json:"checked"`
}

// ScoreComponents breaks down the security score into categories.
// Each component contributes up to 25 points; Overall rescales their sum
// to 100.
type ScoreComponents struct {
	// StrengthScore is based on average password strength (0-25).
	StrengthScore int `json:"strength"`
	// UniquenessScore is based on percentage of unique passwords (0-25).
	UniquenessScore int `json:"uniqueness"`
	// FreshnessScore is based on percentage of non-expired passwords (0-25).
	FreshnessScore int `json:"freshness"`
}

// IssueType identifies the type of security issue.
type IssueType string

const (
	// IssueWeakPassword indicates a password with insufficient strength.
	IssueWeakPassword IssueType = "weak"
	// IssueDuplicatePassword indicates passwords reused across entries.
	IssueDuplicatePassword IssueType = "duplicate"
	// IssueExpiringSoon indicates a password close to its maximum age.
	IssueExpiringSoon IssueType = "expiring"
	// IssueExpired indicates a password older than the maximum age.
	IssueExpired IssueType = "expired"
)

// Severity indicates the urgency of a security issue.
type Severity string

const (
	// SeverityCritical requires immediate attention.
	SeverityCritical Severity = "critical"
	// SeverityWarning should be addressed soon.
	SeverityWarning Severity = "warning"
	// SeverityInfo is informational only.
	SeverityInfo Severity = "info"
)

// SecurityIssue represents a detected security problem.
type SecurityIssue struct {
	Type     IssueType `json:"type"`
	Severity Severity  `json:"severity"`
	// EntryID and Title identify the affected entry. Duplicate issues use
	// EntryIDs instead.
	EntryID     string   `json:"entry_id,omitempty"`
	Title       string   `json:"title,omitempty"`
	EntryIDs    []string `json:"entry_ids,omitempty"`
	Description string   `json:"description"`
	Suggestion  string   `json:"suggestion,omitempty"`
}

// EntrySource supplies the entries to evaluate. *vault.Vault satisfies it.
type EntrySource interface {
	Entries() ([]*vault.Entry, error)
}

// Calculator computes security scores for a vault.
type Calculator struct {
	source         EntrySource
	limits         Limits
	hmacKey        []byte // Session-local key for duplicate detection
	expirationDays int    // 0 disables age checks
	now            func() time.Time
}

// NewCalculator creates a new security calculator over src. The HMAC key
// used for duplicate detection is random per calculator and never stored.
func NewCalculator(src EntrySource) (*Calculator, error) {
	key, err := crypto.RandomBytes(32)
	if err != nil {
		return nil, err
	}
	return &Calculator{
		source:         src,
		limits:         Unlimited(),
		hmacKey:        key,
		expirationDays: DefaultExpirationDays,
		now:            time.Now,
	}, nil
}

// WithExpirationDays sets the password age that counts as expired.
// Zero disables expiry checks.
func (c *Calculator) WithExpirationDays(days int) *Calculator {
	if days < 0 {
		days = 0
	}
	c.expirationDays = days
	return c
}

// WithLimits caps the number of listed issues per kind.
func (c *Calculator) WithLimits(l Limits) *Calculator {
	c.limits = l
	return c
}

// WithClock replaces the time source.
func (c *Calculator) WithClock(now func() time.Time) *Calculator {
	c.now = now
	return c
}

// Close wipes the session HMAC key.
func (c *Calculator) Close() {
	crypto.SecureWipe(c.hmacKey)
}

// CalculateScore computes the full security score for the vault.
func (c *Calculator) CalculateScore() (*SecurityScore, error) {
	entries, err := c.source.Entries()
	if err != nil {
		return nil, err
	}

	checked := 0
	for _, e := range entries {
		if auditable(e) && e.Secret != "" {
			checked++
		}
	}
	// Nothing to evaluate: perfect score
	if checked == 0 {
		return &SecurityScore{
			Overall: 100,
			Components: ScoreComponents{
				StrengthScore:   25,
				UniquenessScore: 25,
				FreshnessScore:  25,
			},
			Issues:      []SecurityIssue{},
			Duplicates:  []DuplicateGroup{},
			Suggestions: []string{},
		}, nil
	}

	strengthScore, weakIssues := c.calculateStrengthScore(entries, checked)
	duplicates := c.FindDuplicates(entries)
	uniquenessScore, dupIssues := c.calculateUniquenessScore(duplicates, checked)
	freshnessScore, expIssues := c.calculateFreshnessScore(entries)

	allIssues := make([]SecurityIssue, 0, len(weakIssues)+len(dupIssues)+len(expIssues))
	allIssues = append(allIssues, expIssues...)
	allIssues = append(allIssues, weakIssues...)
	allIssues = append(allIssues, dupIssues...)
	allIssues, limited := c.limits.apply(allIssues)
	if duplicates == nil {
		duplicates = []DuplicateGroup{}
	}

	return &SecurityScore{
		Overall: (strengthScore + uniquenessScore + freshnessScore) * 100 / 75,
		Components: ScoreComponents{
			StrengthScore:   strengthScore,
			UniquenessScore: uniquenessScore,
			FreshnessScore:  freshnessScore,
		},
		Issues:      allIssues,
		Duplicates:  duplicates,
		Suggestions: c.generateSuggestions(allIssues),
		Limited:     limited,
		Checked:     checked,
	}, nil
}

// calculateStrengthScore averages strength points over checked passwords.
func (c *Calculator) calculateStrengthScore(entries []*vault.Entry, checked int) (int, []SecurityIssue) {
	totalPoints := 0
	for _, e := range entries {
		if auditable(e) && e.Secret != "" {
			totalPoints += CalculateStrength(e.Secret).Points()
		}
	}
	score := totalPoints / checked
	if score > 25 {
		score = 25
	}
	return score, c.FindWeakPasswords(entries)
}

// calculateUniquenessScore scores the share of passwords that are not
// reused. Every member of a duplicate group beyond the first counts as a
// repeat.
func (c *Calculator) calculateUniquenessScore(groups []DuplicateGroup, checked int) (int, []SecurityIssue) {
	repeats := 0
	var issues []SecurityIssue
	for _, g := range groups {
		repeats += g.Count - 1
		issues = append(issues, SecurityIssue{
			Type:        IssueDuplicatePassword,
			Severity:    SeverityWarning,
			EntryIDs:    g.EntryIDs,
			Description: strconv.Itoa(g.Count) + " entries share the same password",
			Suggestion:  "Use unique passwords for each entry",
		})
	}
	unique := checked - repeats
	return unique * 25 / checked, issues
}

// calculateFreshnessScore checks each password's age against the
// configured maximum.
func (c *Calculator) calculateFreshnessScore(entries []*vault.Entry) (int, []SecurityIssue) {
	if c.expirationDays == 0 {
		return 25, nil
	}
	now := c.now()
	maxAge := time.Duration(c.expirationDays) * 24 * time.Hour
	warnAge := maxAge - expiryWarningDays*24*time.Hour

	var issues []SecurityIssue
	total, fresh := 0, 0
	for _, e := range entries {
		if !auditable(e) || e.Secret == "" {
			continue
		}
		total++
		changed := e.LastSecretChangeAt
		if changed.IsZero() {
			changed = e.CreatedAt
		}
		age := now.Sub(changed)

		//nolint:gocritic // if-else chain is clearer for time comparisons
		if age > maxAge {
			issues = append(issues, SecurityIssue{
				Type:        IssueExpired,
				Severity:    SeverityCritical,
				EntryID:     e.ID,
				Title:       e.Title,
				Description: "Password last changed " + formatDays(int(age.Hours()/24)) + " ago",
				Suggestion:  "Change this password",
			})
		} else if warnAge > 0 && age > warnAge {
			fresh++
			daysLeft := int((maxAge - age).Hours() / 24)
			issues = append(issues, SecurityIssue{
				Type:        IssueExpiringSoon,
				Severity:    SeverityInfo,
				EntryID:     e.ID,
				Title:       e.Title,
				Description: "Password expires in " + formatDays(daysLeft),
				Suggestion:  "Plan to change this password",
			})
		} else {
			fresh++
		}
	}
	if total == 0 {
		return 25, issues
	}
	return fresh * 25 / total, issues
}

// generateSuggestions creates actionable recommendations based on issues.
func (c *Calculator) generateSuggestions(issues []SecurityIssue) []string {
	suggestions := []string{}
	has := make(map[IssueType]bool)
	for _, issue := range issues {
		has[issue.Type] = true
	}

	if has[IssueExpired] {
		suggestions = append(suggestions, "Change passwords older than "+formatDays(c.expirationDays))
	}
	if has[IssueWeakPassword] {
		suggestions = append(suggestions, "Update weak passwords with stronger alternatives (14+ characters)")
	}
	if has[IssueDuplicatePassword] {
		suggestions = append(suggestions, "Replace duplicate passwords with unique values")
	}
	if has[IssueExpiringSoon] {
		suggestions = append(suggestions, "Plan to change passwords that expire soon")
	}
	return suggestions
}

// formatLength returns a human-readable character count.
func formatLength(s string) string {
	n := utf8.RuneCountInString(s)
	if n == 1 {
		return "1 character"
	}
	return strconv.Itoa(n) + " characters"
}

// formatDays returns a human-readable day count.
func formatDays(days int) string {
	if days == 0 {
		return "today"
	}
	if days == 1 {
		return "1 day"
	}
	return strconv.Itoa(days) + " days"
}
