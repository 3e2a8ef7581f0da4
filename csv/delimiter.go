package csv

import (
	"bufio"
	"io"
	"strings"

	"hermannm.dev/wrap"
)

var DefaultDelimitersToCheck = []rune{',', ';', '\t', ' ', '|'}

// DeduceFieldDelimiter guesses the field delimiter of the given CSV file by counting candidate
// delimiter occurrences over the first maxRowsToCheck lines. A delimiter that occurs the same
// number of times on every line is preferred; among those, the one with the highest count wins.
func DeduceFieldDelimiter(
	csvFile io.ReadSeeker,
	maxRowsToCheck int,
	delimitersToCheck []rune,
) (delimiter rune, err error) {
	// Resets reader position in file before returning, so its data can be read subsequently
	defer func() {
		if _, seekErr := csvFile.Seek(0, io.SeekStart); seekErr != nil {
			err = wrap.Error(seekErr, "failed to reset CSV reader after deducing field delimiter")
		}
	}()

	if len(delimitersToCheck) == 0 {
		delimitersToCheck = DefaultDelimitersToCheck
	}

	counts := make(map[rune]*delimiterCounts, len(delimitersToCheck))
	for _, candidate := range delimitersToCheck {
		counts[candidate] = &delimiterCounts{lowest: -1, highest: -1}
	}

	scanner := bufio.NewScanner(csvFile)
	for i := 0; scanner.Scan() && i < maxRowsToCheck; i++ {
		line := scanner.Text()

		for _, candidate := range delimitersToCheck {
			counts[candidate].update(strings.Count(line, string(candidate)))
		}
	}

	best := delimitersToCheck[0]
	for _, candidate := range delimitersToCheck[1:] {
		if counts[candidate].betterThan(counts[best]) {
			best = candidate
		}
	}
	return best, nil
}

type delimiterCounts struct {
	lowest  int
	highest int
}

func (counts *delimiterCounts) update(count int) {
	if counts.highest == -1 || count > counts.highest {
		counts.highest = count
	}
	if counts.lowest == -1 || count < counts.lowest {
		counts.lowest = count
	}
}

// A delimiter occurring a consistent, non-zero number of times per line beats an inconsistent
// one; ties are broken by occurrence count.
func (counts *delimiterCounts) betterThan(other *delimiterCounts) bool {
	consistent := counts.highest == counts.lowest && counts.highest > 0
	otherConsistent := other.highest == other.lowest && other.highest > 0

	if consistent != otherConsistent {
		return consistent
	}
	return counts.highest > other.highest
}
