package coordinator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// nextBatchID derives the next human-readable batch id for a producer:
// the producer's initials, the current year, and a zero-padded sequence
// (e.g. "FSN-2025-007"). The sequence continues from the
// lexicographically greatest cached id with the same prefix, which is
// numerically correct while sequences stay within three digits.
func (c *Coordinator) nextBatchID(ctx context.Context, producerName string) (string, error) {
	initials := initialsOf(producerName)
	if initials == "" {
		return "", Validationf("producer name is required to generate a batch id")
	}

	prefix := fmt.Sprintf("%s-%d-", initials, c.now().Year())

	last, err := c.cache.MaxBatchID(ctx, prefix)
	if err != nil {
		return "", CacheError(err, "failed to query last batch id")
	}

	sequence := 1
	if last != "" {
		parts := strings.Split(last, "-")
		n, err := strconv.Atoi(parts[len(parts)-1])
		if err != nil {
			return "", CacheError(err, fmt.Sprintf("malformed batch id %q in cache", last))
		}
		sequence = n + 1
	}

	return fmt.Sprintf("%s%03d", prefix, sequence), nil
}

// initialsOf uppercases the first letter of each space-separated word.
func initialsOf(name string) string {
	var b strings.Builder
	for _, word := range strings.Fields(name) {
		first := []rune(word)[0]
		b.WriteString(strings.ToUpper(string(first)))
	}
	return b.String()
}
