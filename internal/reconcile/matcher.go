package reconcile

import (
	"regexp"
	"strconv"
	"strings"
)

type Kind int

const (
	Damage Kind = iota + 1
	Heal
)

func (k Kind) String() string {
	switch k {
	case Damage:
		return "damage"
	case Heal:
		return "heal"
	default:
		return "unknown"
	}
}

// Delta is one health change read from a narrative line.
type Delta struct {
	Target string
	// Amount is a magnitude; Kind carries the sign.
	Amount int
	Kind   Kind
	// FirstPerson marks narration addressed to the local player ("you").
	FirstPerson bool
}

func (d Delta) Signed() int {
	if d.Kind == Damage {
		return -d.Amount
	}
	return d.Amount
}

// Matcher turns a narrative line into a Delta. Lines it does not recognise
// return false.
type Matcher interface {
	Match(line string) (Delta, bool)
}

type MatcherFunc func(line string) (Delta, bool)

func (f MatcherFunc) Match(line string) (Delta, bool) { return f(line) }

// Rule is one narration pattern. Pattern must define the named groups
// "target" and "amount"; "actor" is optional and resolves reflexive targets.
type Rule struct {
	Pattern *regexp.Regexp
	Kind    Kind
}

type RegexMatcher struct {
	rules []Rule
}

func NewRegexMatcher(rules ...Rule) *RegexMatcher {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &RegexMatcher{rules: rules}
}

func DefaultRules() []Rule {
	return []Rule{
		{Kind: Damage, Pattern: regexp.MustCompile(`(?i)^(?P<actor>[^:]+?)\s+(?:hit|hits|strike|strikes|slash|slashes|bite|bites|blast|blasts|crit|crits|burn|burns)\s+(?P<target>[^:]+?)\s+for\s+(?P<amount>\d[\d,]*)(?:\s+points\s+of)?\s+damage`)},
		{Kind: Damage, Pattern: regexp.MustCompile(`(?i)^(?P<target>[^:]+?)\s+(?:take|takes|suffer|suffers)\s+(?P<amount>\d[\d,]*)\s+(?:points\s+of\s+)?damage`)},
		{Kind: Heal, Pattern: regexp.MustCompile(`(?i)^(?P<actor>[^:]+?)\s+(?:heal|heals|mend|mends)\s+(?P<target>[^:]+?)\s+for\s+(?P<amount>\d[\d,]*)`)},
		{Kind: Heal, Pattern: regexp.MustCompile(`(?i)^(?P<target>[^:]+?)\s+(?:recover|recovers|regenerate|regenerates)\s+(?P<amount>\d[\d,]*)\s+(?:hp|health)`)},
	}
}

var reflexive = map[string]struct{}{
	"itself": {}, "himself": {}, "herself": {}, "themself": {}, "themselves": {}, "yourself": {},
}

func (m *RegexMatcher) Match(line string) (Delta, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Delta{}, false
	}
	for _, r := range m.rules {
		sub := r.Pattern.FindStringSubmatch(line)
		if sub == nil {
			continue
		}
		var actor, target, amount string
		for i, name := range r.Pattern.SubexpNames() {
			switch name {
			case "actor":
				actor = sub[i]
			case "target":
				target = sub[i]
			case "amount":
				amount = sub[i]
			}
		}
		n, err := strconv.Atoi(strings.ReplaceAll(amount, ",", ""))
		if err != nil || n < 0 {
			continue
		}
		target = cleanName(target)
		if _, ok := reflexive[strings.ToLower(target)]; ok && actor != "" {
			target = cleanName(actor)
		}
		if target == "" {
			continue
		}
		d := Delta{Target: target, Amount: n, Kind: r.Kind}
		if strings.EqualFold(target, "you") || strings.EqualFold(target, "yourself") {
			d.FirstPerson = true
		}
		return d, true
	}
	return Delta{}, false
}

func cleanName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ".!,;:")
	lower := strings.ToLower(s)
	for _, art := range []string{"the ", "a ", "an "} {
		if strings.HasPrefix(lower, art) {
			s = s[len(art):]
			break
		}
	}
	return strings.TrimSpace(s)
}
