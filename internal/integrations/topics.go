package integrations

import (
	"regexp"
	"sort"
	"strings"
)

var stopwords = map[string]bool{
	"about": true, "after": true, "again": true, "also": true, "because": true,
	"been": true, "before": true, "being": true, "between": true, "both": true,
	"could": true, "does": true, "doing": true, "down": true, "during": true,
	"each": true, "from": true, "further": true, "have": true, "having": true,
	"here": true, "into": true, "just": true, "like": true, "more": true,
	"most": true, "need": true, "only": true, "other": true, "over": true,
	"really": true, "same": true, "should": true, "some": true, "such": true,
	"than": true, "that": true, "their": true, "them": true, "then": true,
	"there": true, "these": true, "they": true, "think": true, "this": true,
	"those": true, "through": true, "under": true, "very": true, "want": true,
	"well": true, "were": true, "what": true, "when": true, "where": true,
	"which": true, "while": true, "will": true, "with": true, "would": true,
	"your": true, "yeah": true, "okay": true, "going": true, "right": true,
}

var wordPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z\-]{3,}`)

// ExtractTopics returns the maxTopics most frequent content words of the
// text, longest-lived ties broken alphabetically. Good enough to seed a
// documentation search; not a real keyword extractor.
func ExtractTopics(text string, maxTopics int) []string {
	if maxTopics <= 0 {
		maxTopics = 5
	}

	counts := map[string]int{}
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if stopwords[w] {
			continue
		}
		counts[w]++
	}

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})

	if len(words) > maxTopics {
		words = words[:maxTopics]
	}
	return words
}
