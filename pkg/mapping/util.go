package mapping

import (
	"sort"

	"github.com/zoeyai/belottracker/pkg/card"
)

func sortedKeys(m map[string]card.Card) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
