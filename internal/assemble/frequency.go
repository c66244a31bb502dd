package assemble

import (
	"slices"
	"strings"
)

type freq struct {
	value string
	count int
}

// frequencies counts non-empty values. The result is ordered by descending
// count with ties kept in first-seen order.
func frequencies(vals []string) []freq {
	index := make(map[string]int)
	var out []freq
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if i, ok := index[v]; ok {
			out[i].count++
			continue
		}
		index[v] = len(out)
		out = append(out, freq{value: v, count: 1})
	}
	slices.SortStableFunc(out, func(a, b freq) int { return b.count - a.count })
	return out
}

func top(f []freq, n int) []freq {
	return f[:min(len(f), n)]
}

func values(f []freq) []string {
	out := make([]string, len(f))
	for i := range f {
		out[i] = f[i].value
	}
	return out
}
