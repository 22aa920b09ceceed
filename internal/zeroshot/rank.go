package zeroshot

import (
	"cmp"
	"fmt"
	"slices"
)

// RankScores turns a PredictScores matrix into one label list per input,
// highest score first. Equal scores keep label order, so the head of each
// list is what Predict returns.
func RankScores(scores [][]float64, labels []string) ([][]Label, error) {
	out := make([][]Label, len(scores))
	for i, row := range scores {
		if len(row) != len(labels) {
			return nil, fmt.Errorf("input %d: got %d scores for %d labels", i, len(row), len(labels))
		}
		ranked := make([]Label, len(row))
		for j, score := range row {
			ranked[j] = Label{Text: labels[j], Score: score, ID: j, Sentence: i}
		}
		sortByScore(ranked)
		out[i] = ranked
	}
	return out, nil
}

// RankLabels drops labels scoring below threshold and sorts the rest by
// descending score. The input rows are not modified.
func RankLabels(rows [][]Label, threshold float64) [][]Label {
	out := make([][]Label, len(rows))
	for i, row := range rows {
		kept := make([]Label, 0, len(row))
		for _, l := range row {
			if l.Score >= threshold {
				kept = append(kept, l)
			}
		}
		sortByScore(kept)
		out[i] = kept
	}
	return out
}

func sortByScore(labels []Label) {
	slices.SortStableFunc(labels, func(a, b Label) int {
		return cmp.Compare(b.Score, a.Score)
	})
}
