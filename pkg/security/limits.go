package security

// Limits caps how many issues of each kind a report lists.
// Zero means unlimited. Scores are always computed over every entry.
type Limits struct {
	WeakLimit      int
	DuplicateLimit int
	ExpiredLimit   int
}

// Unlimited returns limits that keep every issue.
func Unlimited() Limits {
	return Limits{}
}

// IsLimited returns true if any issue kind is capped.
func (l Limits) IsLimited() bool {
	return l.WeakLimit > 0 || l.DuplicateLimit > 0 || l.ExpiredLimit > 0
}

// limitFor returns the cap for an issue type.
func (l Limits) limitFor(t IssueType) int {
	switch t {
	case IssueWeakPassword:
		return l.WeakLimit
	case IssueDuplicatePassword:
		return l.DuplicateLimit
	case IssueExpired, IssueExpiringSoon:
		return l.ExpiredLimit
	default:
		return 0
	}
}

// apply drops issues beyond each type's cap and reports whether any were
// dropped. Expired and expiring issues share one cap.
func (l Limits) apply(issues []SecurityIssue) ([]SecurityIssue, bool) {
	if !l.IsLimited() {
		return issues, false
	}
	limited := false
	counts := make(map[IssueType]int)
	result := make([]SecurityIssue, 0, len(issues))
	for _, issue := range issues {
		key := issue.Type
		if key == IssueExpiringSoon {
			key = IssueExpired
		}
		if limit := l.limitFor(issue.Type); limit > 0 && counts[key] >= limit {
			limited = true
			continue
		}
		counts[key]++
		result = append(result, issue)
	}
	return result, limited
}
