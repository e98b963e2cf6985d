package recognizer

import "github.com/fyrsmithlabs/recalld/internal/identity"

// maxContextChars bounds the third overlay line so rendering stays small.
const maxContextChars = 50

// DisplayLines derives the three overlay lines for a match outcome. Always
// exactly three strings: an unknown template when unmatched, or
// name/relation/truncated-context when matched.
func DisplayLines(person *identity.Person) []string {
	if person == nil {
		return []string{"New Person", "Not yet recognized", ""}
	}
	return []string{
		person.Name,
		person.Relation,
		truncate(person.Context, maxContextChars),
	}
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
