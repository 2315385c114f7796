package prompt

import "github.com/samber/lo"

// Default is the text shown in the prompt box before the user edits it.
const Default = "a fantasy castle on a mountain at sunset"

// Resolve returns p, or Default when p is empty. Prompts are otherwise passed through as-is.
func Resolve(p string) string {
	return lo.Ternary(p != "", p, Default)
}
