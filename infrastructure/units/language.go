package units

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// UnknownLanguageName is used in prompts when no language was detected.
const UnknownLanguageName = "the customer's language"

// detectable lists the languages DetectLanguage can return.
var detectable = []language.Tag{
	language.English,
	language.Spanish,
	language.Portuguese,
	language.French,
	language.German,
	language.Italian,
}

var stopwordsByLanguage = map[language.Tag][]string{
	language.English: {
		"the", "and", "are", "you", "your", "does", "what", "how", "can", "for",
		"with", "have", "this", "that", "there", "would", "could", "please",
		"thanks", "hello", "need", "want", "much", "when", "like", "about",
	},
	language.Spanish: {
		"los", "las", "son", "usted", "ustedes", "qué", "que", "cómo", "cuánto",
		"puedo", "para", "con", "tienen", "hola", "gracias", "por", "favor",
		"necesito", "quiero", "del", "una", "hay", "cuando", "cuesta",
	},
	language.Portuguese: {
		"são", "você", "vocês", "quanto", "posso", "com", "têm", "olá",
		"obrigado", "obrigada", "preciso", "quero", "meu", "minha", "uma", "não",
		"tem", "está", "gostaria", "custa",
	},
	language.French: {
		"les", "est", "sont", "vous", "votre", "quel", "quelle", "combien",
		"pour", "avec", "avez", "bonjour", "merci", "mon", "une", "des", "pas",
		"voudrais", "besoin", "c'est",
	},
	language.German: {
		"der", "die", "das", "ist", "sind", "sie", "ihr", "was", "wie", "viel",
		"kann", "für", "mit", "haben", "hallo", "danke", "bitte", "ich", "mein",
		"meine", "eine", "ein", "nicht", "gibt", "wann", "brauche", "möchte",
	},
	language.Italian: {
		"gli", "sono", "lei", "voi", "quanto", "posso", "per", "con", "avete",
		"ciao", "buongiorno", "grazie", "mio", "mia", "una", "non", "c'è",
		"vorrei", "bisogno", "quando", "della", "che",
	},
}

// stopwordSets indexes stopwordsByLanguage for lookups; allStopwords is
// their union, used when tokenizing for context selection.
var (
	stopwordSets = buildStopwordSets()
	allStopwords = unionStopwords()
)

func buildStopwordSets() map[language.Tag]map[string]struct{} {
	sets := make(map[language.Tag]map[string]struct{}, len(stopwordsByLanguage))
	for tag, words := range stopwordsByLanguage {
		set := make(map[string]struct{}, len(words))
		for _, w := range words {
			set[w] = struct{}{}
		}
		sets[tag] = set
	}
	return sets
}

func unionStopwords() map[string]struct{} {
	all := make(map[string]struct{})
	for _, words := range stopwordsByLanguage {
		for _, w := range words {
			all[w] = struct{}{}
		}
	}
	return all
}

// words splits text into lowercase words of letters, digits and
// apostrophes.
func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// minDetectRunes skips words too short to tell languages apart ("a", "o",
// "il" are stopwords in several of them).
const minDetectRunes = 3

// DetectLanguage guesses the language of a customer message by counting
// stopword hits. The best language must score strictly more hits than the
// runner-up; otherwise, or when nothing matches, it returns language.Und.
func DetectLanguage(text string) language.Tag {
	counts := make(map[language.Tag]int, len(detectable))
	for _, w := range words(text) {
		if utf8.RuneCountInString(w) < minDetectRunes {
			continue
		}
		for _, tag := range detectable {
			if _, ok := stopwordSets[tag][w]; ok {
				counts[tag]++
			}
		}
	}

	best, bestCount, runnerUp := language.Und, 0, 0
	for _, tag := range detectable {
		switch n := counts[tag]; {
		case n > bestCount:
			best, bestCount, runnerUp = tag, n, bestCount
		case n > runnerUp:
			runnerUp = n
		}
	}
	if bestCount == 0 || bestCount == runnerUp {
		return language.Und
	}
	return best
}

// LanguageName returns the English name of tag for use in prompts.
func LanguageName(tag language.Tag) string {
	if tag == language.Und {
		return UnknownLanguageName
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return UnknownLanguageName
}
