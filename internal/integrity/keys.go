package integrity

import (
	"sort"
	"strings"
)

// forbiddenCombos is the fixed denylist of key combinations that count as a
// violation when pressed during a session. The browser shim prevents the
// default action and reports the combo here. Combos are stored normalized:
// modifiers sorted alphabetically, "+"-joined, lowercase.
var forbiddenCombos = map[string]string{
	"ctrl+c":       "Copy attempt blocked",
	"ctrl+v":       "Paste attempt blocked",
	"ctrl+x":       "Cut attempt blocked",
	"ctrl+a":       "Select-all attempt blocked",
	"ctrl+p":       "Print attempt blocked",
	"ctrl+u":       "View-source attempt blocked",
	"ctrl+shift+i": "Developer tools attempt blocked",
	"ctrl+shift+j": "Developer console attempt blocked",
	"ctrl+shift+c": "Element inspector attempt blocked",
	"f12":          "Developer tools attempt blocked",
	"alt+tab":      "Window switch attempt blocked",
	"meta+tab":     "Window switch attempt blocked",
}

// NormalizeCombo canonicalizes a combo string like "Shift+Ctrl+I" so lookup
// is order- and case-insensitive. The non-modifier key always sorts last.
func NormalizeCombo(combo string) string {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(combo)), "+")

	var mods []string
	key := ""
	for _, p := range parts {
		p = strings.TrimSpace(p)
		switch p {
		case "":
			continue
		case "ctrl", "control":
			mods = append(mods, "ctrl")
		case "alt", "option":
			mods = append(mods, "alt")
		case "shift":
			mods = append(mods, "shift")
		case "meta", "cmd", "win", "super":
			mods = append(mods, "meta")
		default:
			key = p
		}
	}

	sort.Strings(mods)
	if key != "" {
		mods = append(mods, key)
	}
	return strings.Join(mods, "+")
}

// MatchForbiddenKey reports whether a key combination is on the denylist,
// returning its violation description when it is.
func MatchForbiddenKey(combo string) (string, bool) {
	desc, ok := forbiddenCombos[NormalizeCombo(combo)]
	return desc, ok
}
