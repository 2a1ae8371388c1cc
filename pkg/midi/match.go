package midi

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// DefaultMatchThreshold is the minimum similarity FindBestMatch accepts by default.
const DefaultMatchThreshold = 0.6

var (
	busPortSuffix   = regexp.MustCompile(`\s+\d+:\d+$`)
	descriptorWord  = regexp.MustCompile(`\s+(midi|input|output|port)(\s+\d+)?$`)
	deviceWord      = regexp.MustCompile(`^device\s+`)
	whitespaceRun   = regexp.MustCompile(`\s+`)
	tokenSeparators = regexp.MustCompile(`[\s\-_:]+`)
)

var stopwords = map[string]bool{
	"midi": true, "input": true, "output": true, "port": true,
	"device": true, "in": true, "out": true,
}

// NormalizeDeviceName reduces a platform port name to the device name, so
// "Launchkey Mini MK3:Launchkey Mini MK3 MIDI 1 20:0" and
// "Launchkey Mini MK3 MIDI 1" both become "launchkey mini mk3".
func NormalizeDeviceName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = busPortSuffix.ReplaceAllString(n, "")

	// ALSA style "client:port" names repeat the device; the port segment is the longer one
	if strings.Contains(n, ":") {
		longest := ""
		for _, seg := range strings.Split(n, ":") {
			seg = strings.TrimSpace(seg)
			if len(seg) > len(longest) {
				longest = seg
			}
		}
		n = longest
	}

	n = descriptorWord.ReplaceAllString(n, "")
	n = deviceWord.ReplaceAllString(n, "")
	n = whitespaceRun.ReplaceAllString(n, " ")
	return strings.TrimSpace(n)
}

// ExtractCoreTokens returns the distinctive words of a device name.
func ExtractCoreTokens(name string) []string {
	var tokens []string
	for _, tok := range tokenSeparators.Split(NormalizeDeviceName(name), -1) {
		if utf8.RuneCountInString(tok) <= 1 || stopwords[tok] {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// CalculateSimilarity scores how likely two names denote the same device, in [0, 1].
func CalculateSimilarity(a, b string) float64 {
	na, nb := NormalizeDeviceName(a), NormalizeDeviceName(b)
	if na == nb {
		return 1
	}

	lev := levenshteinSimilarity(na, nb)
	ta, tb := ExtractCoreTokens(a), ExtractCoreTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return lev
	}

	contains := 0.0
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		contains = 0.8
	}
	return 0.5*jaccard(ta, tb) + 0.3*lev + 0.2*contains
}

// Match is a FindBestMatch result.
type Match struct {
	Index int
	Name  string
	Score float64
}

// FindBestMatch returns the highest scoring candidate at or above threshold.
// Ties keep the earlier candidate.
func FindBestMatch(target string, candidates []string, threshold float64) (Match, bool) {
	best := Match{Index: -1}
	for i, c := range candidates {
		score := CalculateSimilarity(target, c)
		if score < threshold {
			continue
		}
		if best.Index < 0 || score > best.Score {
			best = Match{Index: i, Name: c, Score: score}
		}
	}
	return best, best.Index >= 0
}

func jaccard(a, b []string) float64 {
	set := make(map[string]uint8, len(a)+len(b))
	for _, t := range a {
		set[t] |= 1
	}
	for _, t := range b {
		set[t] |= 2
	}
	inter := 0
	for _, v := range set {
		if v == 3 {
			inter++
		}
	}
	return float64(inter) / float64(len(set))
}

func levenshteinSimilarity(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}
