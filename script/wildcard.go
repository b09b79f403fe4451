package script

import "path/filepath"

// MatchWildcard reports whether name matches a linker-script wildcard
// pattern using glob syntax (*, ?, [...]), the subset GNU ld's own
// wildcard matcher supports, matched with stdlib filepath.Match. A bare "*" (the common case) is fast-pathed.
func MatchWildcard(pattern, name string) bool {
	if pattern == "*" {
		return true
	}
	ok, err := filepath.Match(pattern, name)
	return err == nil && ok
}

// MatchesFile reports whether a SectionRule's file-wildcard (and its
// EXCLUDE_FILE set) accept fileName, per §4.5 step 3-4.
func (r SectionRule) MatchesFile(fileName string) bool {
	for _, excl := range r.ExcludeFiles {
		if MatchWildcard(excl, fileName) {
			return false
		}
	}
	wildcard := r.FileWildcard
	if wildcard == "" {
		wildcard = "*"
	}
	return MatchWildcard(wildcard, fileName)
}

// MatchesSection reports whether sectionName matches any of the
// rule's section-name wildcards (§4.5 step 5). A rule with no
// section-name list at all (a bare file-only rule, e.g. "*(.text)"
// wasn't actually reduced to this) never matches; callers that need
// a whole-file catch-all use an explicit "*" pattern.
func (r SectionRule) MatchesSection(sectionName string) bool {
	for _, pat := range r.Sections {
		if MatchWildcard(pat, sectionName) {
			return true
		}
	}
	return false
}
