// Package selection parses work item selection expressions such as "1-3,5,8-10".
package selection

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

const (
	// MaxRangeSpan bounds a single "start-end" token. Wider ranges are treated as malformed.
	MaxRangeSpan = 10000
	// MaxItemNumber is the largest identifier accepted; larger numbers are malformed
	MaxItemNumber = math.MaxInt32
)

// Parse turns a comma-separated list of numbers and inclusive ranges into an
// ascending, deduplicated list of positive item numbers. Tokens that do not
// parse are dropped, as are descending ranges, ranges wider than MaxRangeSpan
// and numbers above MaxItemNumber.
func Parse(expr string) []int {
	seen := make(map[int]struct{})

	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if startStr, endStr, ok := strings.Cut(part, "-"); ok {
			start, err := strconv.Atoi(strings.TrimSpace(startStr))
			if err != nil {
				continue
			}
			end, err := strconv.Atoi(strings.TrimSpace(endStr))
			if err != nil {
				continue
			}
			if end > MaxItemNumber {
				continue
			}
			start = max(start, 1)
			if end-start >= MaxRangeSpan {
				continue
			}
			for i := start; i <= end; i++ {
				seen[i] = struct{}{}
			}
			continue
		}

		n, err := strconv.Atoi(part)
		if err != nil || n <= 0 || n > MaxItemNumber {
			continue
		}
		seen[n] = struct{}{}
	}

	ids := make([]int, 0, len(seen))
	for n := range seen {
		ids = append(ids, n)
	}
	sort.Ints(ids)
	return ids
}

// Format compresses an ascending list back into range form, e.g. [1 2 3 5] -> "1-3,5"
func Format(ids []int) string {
	if len(ids) == 0 {
		return ""
	}

	var parts []string
	start, prev := ids[0], ids[0]
	flush := func() {
		if start == prev {
			parts = append(parts, strconv.Itoa(start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, prev))
		}
	}

	for _, n := range ids[1:] {
		if n == prev+1 {
			prev = n
			continue
		}
		flush()
		start, prev = n, n
	}
	flush()

	return strings.Join(parts, ",")
}
