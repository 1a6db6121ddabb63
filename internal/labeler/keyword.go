package labeler

import (
	"context"
	"sort"
	"strings"
	"unicode"
)

// KeywordClassifier labels text containing configured words.
type KeywordClassifier struct {
	keywords map[string]string
}

func NewKeywordClassifier(keywords map[string]string) *KeywordClassifier {
	normalized := make(map[string]string, len(keywords))
	for word, label := range keywords {
		normalized[strings.ToLower(word)] = label
	}
	return &KeywordClassifier{keywords: normalized}
}

func (k *KeywordClassifier) Name() string { return "keyword" }

func (k *KeywordClassifier) Classify(_ context.Context, s Subject) ([]string, error) {
	if s.Text == "" || len(k.keywords) == 0 {
		return nil, nil
	}

	words := strings.FieldsFunc(strings.ToLower(s.Text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '-' && r != '_'
	})

	seen := make(map[string]struct{})
	for _, w := range words {
		if label, ok := k.keywords[w]; ok {
			seen[label] = struct{}{}
		}
	}

	labels := make([]string, 0, len(seen))
	for label := range seen {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels, nil
}

var _ Classifier = (*KeywordClassifier)(nil)
