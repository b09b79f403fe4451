// Package secmap implements the section mapper (C10): assigning each
// input section to an output section by matching it against the
// linker script's rule list, falling back to orphan handling when no
// rule matches (§4.5).
package secmap

import (
	"fmt"

	"github.com/go-eld/eldlink/config"
	"github.com/go-eld/eldlink/script"
)

// InputSection is the minimal view the mapper needs of a candidate
// input section, independent of obj.Section so this package doesn't
// need to import the reader.
type InputSection struct {
	FileName string // resolved path, or archive-member name in thin-archive mode
	Name     string // the name matched against rules, possibly a plugin override
	Flags    uint32 // ELF section flags, used for orphan compatible-section heuristics
}

// Assignment is the result of mapping one InputSection.
type Assignment struct {
	OutputSection string
	Rule          *script.SectionRule // nil if orphan-placed
	Keep          bool
	Orphan        bool
}

// RuleSet is a flattened, match-ready view of a parsed script's
// SECTIONS block: one entry per (output section, rule) pair, in
// script order (§4.5 step 1-2).
type RuleSet struct {
	outputs []outputEntry
	// memo caches (rule index, file name) -> file-match result, since
	// the same file is matched against the same rule for every one of
	// its sections (§4.5 step 4: "memoize per (rule, F)").
	memo map[memoKey]bool
}

type outputEntry struct {
	name  string
	rules []ruleEntry
}

type ruleEntry struct {
	index int
	rule  script.SectionRule
}

type memoKey struct {
	ruleIndex int
	file      string
}

// BuildRuleSet flattens a parsed SECTIONS command into match-ready
// output/rule pairs, in script order.
func BuildRuleSet(sections *script.SectionsCommand) *RuleSet {
	rs := &RuleSet{memo: map[memoKey]bool{}}
	if sections == nil {
		return rs
	}
	nextIndex := 0
	for _, entry := range sections.Entries {
		out, ok := entry.(*script.OutputSection)
		if !ok {
			continue
		}
		oe := outputEntry{name: out.Name}
		for _, r := range out.Entries {
			oe.rules = append(oe.rules, ruleEntry{index: nextIndex, rule: r})
			nextIndex++
		}
		rs.outputs = append(rs.outputs, oe)
	}
	return rs
}

func (rs *RuleSet) fileMatches(re ruleEntry, fileName string) bool {
	key := memoKey{ruleIndex: re.index, file: fileName}
	if v, ok := rs.memo[key]; ok {
		return v
	}
	v := re.rule.MatchesFile(fileName)
	rs.memo[key] = v
	return v
}

// Match finds the first rule (in script order) that accepts sec,
// returning its output section name and whether KEEP was set. ok is
// false if no rule matched (an orphan).
func (rs *RuleSet) Match(sec InputSection) (Assignment, bool) {
	for _, oe := range rs.outputs {
		for _, re := range oe.rules {
			if !rs.fileMatches(re, sec.FileName) {
				continue
			}
			if !re.rule.MatchesSection(sec.Name) {
				continue
			}
			return Assignment{OutputSection: oe.name, Rule: ruleCopy(re.rule), Keep: re.rule.Keep}, true
		}
	}
	return Assignment{}, false
}

func ruleCopy(r script.SectionRule) *script.SectionRule {
	c := r
	return &c
}

// Mapper assigns every input section it sees to an output section,
// applying orphan handling for sections no script rule claimed.
type Mapper struct {
	Rules   *RuleSet
	Orphans config.OrphanHandling

	// Assignments accumulates every mapped section's result in the
	// order Map was called, for the layout engine to iterate over
	// deterministically (§5 ordering guarantee).
	Assignments []Assignment
	Orphaned    []InputSection
}

func NewMapper(rules *RuleSet, orphans config.OrphanHandling) *Mapper {
	return &Mapper{Rules: rules, Orphans: orphans}
}

// Map assigns sec to an output section. It returns the Assignment and
// an error only for OrphanError (fatal) policy; OrphanWarn populates a
// warning-worthy Assignment without erroring (the caller's diagnostic
// engine decides how to surface it), OrphanDiscard marks the section
// discarded by returning an Assignment with OutputSection "" and
// Orphan true, and the caller interprets an empty OutputSection as a
// drop.
func (m *Mapper) Map(sec InputSection) (Assignment, error) {
	if a, ok := m.Rules.Match(sec); ok {
		m.Assignments = append(m.Assignments, a)
		return a, nil
	}

	m.Orphaned = append(m.Orphaned, sec)
	switch m.Orphans {
	case config.OrphanError:
		return Assignment{}, fmt.Errorf("no script rule matches orphan section %q from %q", sec.Name, sec.FileName)
	case config.OrphanDiscard:
		a := Assignment{Orphan: true}
		m.Assignments = append(m.Assignments, a)
		return a, nil
	case config.OrphanWarn, config.OrphanPlace:
		a := Assignment{OutputSection: orphanOutputName(sec), Orphan: true}
		m.Assignments = append(m.Assignments, a)
		return a, nil
	}
	return Assignment{}, fmt.Errorf("unknown orphan-handling policy %v", m.Orphans)
}

// orphanOutputName picks a compatible output section name for an
// orphan by the §4.5 "place" policy: an unrecognized section keeps its
// own name as the output section (GNU ld's default orphan placement
// when no better-matching existing output section shares its
// flags/type; a fuller flag-compatibility search belongs to the
// layout engine, which has visibility into every output section's
// accumulated flags).
func orphanOutputName(sec InputSection) string {
	return sec.Name
}
