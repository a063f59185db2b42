package model

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const defaultTokenPattern = `(?u)\b\w\w+\b`

// VectorizerConfig is the exported state of a fitted TF-IDF vectorizer.
// Field names follow scikit-learn's TfidfVectorizer so an export script can
// dump vocabulary_, idf_ and the constructor parameters directly.
type VectorizerConfig struct {
	Vocabulary   map[string]int  `json:"vocabulary"`
	IDF          []float64       `json:"idf"`
	NgramRange   [2]int          `json:"ngram_range"`
	Lowercase    *bool           `json:"lowercase"`
	StripAccents string          `json:"strip_accents"` // "", "unicode" or "ascii"
	StopWords    []string        `json:"stop_words"`
	TokenPattern string          `json:"token_pattern"`
	SublinearTF  bool            `json:"sublinear_tf"`
	Norm         json.RawMessage `json:"norm"` // "l2" (default), "l1" or null
}

// Vectorizer turns text into a sparse TF-IDF vector.
type Vectorizer struct {
	vocab     map[string]int
	idf       []float64
	minN      int
	maxN      int
	lowercase bool
	accents   transform.Transformer // nil: keep accents
	stop      map[string]struct{}
	pattern   *regexp.Regexp // nil: default word scanner
	sublinear bool
	norm      string
}

func newVectorizer(cfg VectorizerConfig, numFeatures int) (*Vectorizer, error) {
	if len(cfg.Vocabulary) == 0 {
		return nil, fmt.Errorf("vectorizer: empty vocabulary")
	}
	for term, idx := range cfg.Vocabulary {
		if idx < 0 || idx >= numFeatures {
			return nil, fmt.Errorf("vectorizer: term %q has column %d outside [0, %d)", term, idx, numFeatures)
		}
	}
	if len(cfg.IDF) != 0 && len(cfg.IDF) != numFeatures {
		return nil, fmt.Errorf("vectorizer: %d idf weights for %d features", len(cfg.IDF), numFeatures)
	}

	v := &Vectorizer{
		vocab:     cfg.Vocabulary,
		idf:       cfg.IDF,
		minN:      cfg.NgramRange[0],
		maxN:      cfg.NgramRange[1],
		lowercase: cfg.Lowercase == nil || *cfg.Lowercase,
		sublinear: cfg.SublinearTF,
	}
	if v.minN <= 0 {
		v.minN = 1
	}
	if v.maxN < v.minN {
		v.maxN = v.minN
	}

	switch cfg.StripAccents {
	case "":
	case "unicode":
		v.accents = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	case "ascii":
		v.accents = transform.Chain(norm.NFKD, runes.Remove(runes.Predicate(func(r rune) bool {
			return r > unicode.MaxASCII
		})))
	default:
		return nil, fmt.Errorf("vectorizer: unknown strip_accents %q", cfg.StripAccents)
	}

	if len(cfg.StopWords) > 0 {
		v.stop = make(map[string]struct{}, len(cfg.StopWords))
		for _, w := range cfg.StopWords {
			v.stop[w] = struct{}{}
		}
	}

	if cfg.TokenPattern != "" && cfg.TokenPattern != defaultTokenPattern {
		// RE2 has no (?u) flag; Go's \w is ASCII-only, which is the best we
		// can do for custom patterns.
		re, err := regexp.Compile(strings.TrimPrefix(cfg.TokenPattern, "(?u)"))
		if err != nil {
			return nil, fmt.Errorf("vectorizer: token_pattern: %w", err)
		}
		v.pattern = re
	}

	v.norm = "l2"
	if len(cfg.Norm) > 0 {
		var n *string
		if err := json.Unmarshal(cfg.Norm, &n); err != nil {
			return nil, fmt.Errorf("vectorizer: norm: %w", err)
		}
		switch {
		case n == nil:
			v.norm = ""
		case *n == "l1" || *n == "l2":
			v.norm = *n
		default:
			return nil, fmt.Errorf("vectorizer: unknown norm %q", *n)
		}
	}
	return v, nil
}

// Transform returns the TF-IDF weights of text keyed by feature column.
func (v *Vectorizer) Transform(text string) map[int]float64 {
	counts := make(map[int]float64)
	for _, term := range v.terms(text) {
		if idx, ok := v.vocab[term]; ok {
			counts[idx]++
		}
	}

	for idx, tf := range counts {
		if v.sublinear {
			tf = 1 + math.Log(tf)
		}
		if len(v.idf) > 0 {
			tf *= v.idf[idx]
		}
		counts[idx] = tf
	}

	var total float64
	switch v.norm {
	case "l2":
		for _, w := range counts {
			total += w * w
		}
		total = math.Sqrt(total)
	case "l1":
		for _, w := range counts {
			total += math.Abs(w)
		}
	}
	if total > 0 {
		for idx := range counts {
			counts[idx] /= total
		}
	}
	return counts
}

// terms produces the word n-grams of text in scikit-learn's order:
// preprocess, tokenize, drop stop words, then build n-grams.
func (v *Vectorizer) terms(text string) []string {
	if v.accents != nil {
		if s, _, err := transform.String(v.accents, text); err == nil {
			text = s
		}
	}
	if v.lowercase {
		text = strings.ToLower(text)
	}

	var tokens []string
	if v.pattern != nil {
		tokens = v.pattern.FindAllString(text, -1)
	} else {
		tokens = wordTokens(text)
	}
	if v.stop != nil {
		kept := tokens[:0]
		for _, t := range tokens {
			if _, ok := v.stop[t]; !ok {
				kept = append(kept, t)
			}
		}
		tokens = kept
	}
	return ngrams(tokens, v.minN, v.maxN)
}

// wordTokens matches the default pattern (?u)\b\w\w+\b: runs of two or more
// letters, digits or underscores.
func wordTokens(text string) []string {
	isWord := func(r rune) bool {
		return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
	}
	var tokens []string
	for _, f := range strings.FieldsFunc(text, func(r rune) bool { return !isWord(r) }) {
		if len([]rune(f)) >= 2 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func ngrams(tokens []string, minN, maxN int) []string {
	if maxN == 1 {
		return tokens
	}
	var out []string
	if minN == 1 {
		out = append(out, tokens...)
		minN++
	}
	for n := minN; n <= maxN && n <= len(tokens); n++ {
		for i := 0; i+n <= len(tokens); i++ {
			out = append(out, strings.Join(tokens[i:i+n], " "))
		}
	}
	return out
}
