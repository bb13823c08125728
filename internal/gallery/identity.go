package gallery

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeIdentity puts a display name into NFC form and collapses runs of whitespace.
func NormalizeIdentity(name string) string {
	return strings.Join(strings.Fields(norm.NFC.String(name)), " ")
}

// IdentityFromFolder derives the identity from an enrollment folder named
// "<roll>_<Given>_<Family>": the roll number is dropped and the remaining
// underscores become spaces. Folders without an underscore are used as is.
func IdentityFromFolder(folder string) string {
	name := folder
	if _, rest, ok := strings.Cut(folder, "_"); ok && strings.Trim(rest, "_ ") != "" {
		name = rest
	}
	return NormalizeIdentity(strings.ReplaceAll(name, "_", " "))
}

// FoldIdentity returns a comparison key for an identity: no diacritics,
// lowercase, dashes as spaces (e.g., "Jiří Novák-Král" -> "jiri novak kral").
func FoldIdentity(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, _ := transform.String(t, name)
	folded = strings.ToLower(folded)
	folded = strings.ReplaceAll(folded, "-", " ")
	return NormalizeIdentity(folded)
}

// ConfusableIdentities groups distinct identities among photos that share a
// FoldIdentity key, e.g. "Jiri Novak" and "Jiří Novák". Each group is sorted
// and groups are ordered by their first member.
func ConfusableIdentities(photos []Photo) [][]string {
	byKey := make(map[string]map[string]bool)
	for _, p := range photos {
		key := FoldIdentity(p.Identity)
		if byKey[key] == nil {
			byKey[key] = make(map[string]bool)
		}
		byKey[key][p.Identity] = true
	}

	var groups [][]string
	for _, ids := range byKey {
		if len(ids) < 2 {
			continue
		}
		group := make([]string, 0, len(ids))
		for id := range ids {
			group = append(group, id)
		}
		sort.Strings(group)
		groups = append(groups, group)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
	return groups
}
