package policy

import "regexp"

// compileGlob turns a naive glob pattern into an anchored regex: escape
// metacharacters, then replace `*` with `.*`. This is deliberately not
// real shell globbing — spec §4.2 calls this out explicitly ("implementers
// should not substitute full shell-style globbing as it would change
// which path patterns match") — `*` has no directory semantics here.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	escaped := regexp.QuoteMeta(pattern)
	// QuoteMeta escapes '*' as '\*'; turn it back into '.*'.
	expanded := ""
	for i := 0; i < len(escaped); i++ {
		if escaped[i] == '\\' && i+1 < len(escaped) && escaped[i+1] == '*' {
			expanded += ".*"
			i++
			continue
		}
		expanded += string(escaped[i])
	}
	return regexp.Compile("^" + expanded + "$")
}

func globMatches(pattern, value string) bool {
	re, err := compileGlob(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(value)
}

func anyGlobMatches(patterns []string, value string) bool {
	for _, p := range patterns {
		if globMatches(p, value) {
			return true
		}
	}
	return false
}

// domainMatches additionally treats a "*.x.y" pattern as matching exactly
// "x.y" (spec §4.2: "A domain pattern `*.x.y` additionally matches exactly
// `x.y`").
func domainMatches(pattern, domain string) bool {
	if globMatches(pattern, domain) {
		return true
	}
	const wildcardPrefix = "*."
	if len(pattern) > len(wildcardPrefix) && pattern[:len(wildcardPrefix)] == wildcardPrefix {
		bare := pattern[len(wildcardPrefix):]
		return domain == bare
	}
	return false
}

func anyDomainMatches(patterns []string, domain string) bool {
	for _, p := range patterns {
		if domainMatches(p, domain) {
			return true
		}
	}
	return false
}
