package snore

import (
	"fmt"
	"strings"
)

// ConfusionMatrix counts binary outcomes indexed as [actual][predicted].
type ConfusionMatrix [2][2]int

// Add records one prediction.
func (m *ConfusionMatrix) Add(actual, predicted int) {
	m[clampLabel(actual)][clampLabel(predicted)]++
}

// Total is the number of recorded predictions.
func (m *ConfusionMatrix) Total() int {
	return m[0][0] + m[0][1] + m[1][0] + m[1][1]
}

// Accuracy is the fraction of correct predictions, 0 when empty.
func (m *ConfusionMatrix) Accuracy() float64 {
	if m.Total() == 0 {
		return 0
	}
	return float64(m[0][0]+m[1][1]) / float64(m.Total())
}

// Precision for label, 0 when the label was never predicted.
func (m *ConfusionMatrix) Precision(label int) float64 {
	l := clampLabel(label)
	predicted := m[0][l] + m[1][l]
	if predicted == 0 {
		return 0
	}
	return float64(m[l][l]) / float64(predicted)
}

// Recall for label, 0 when the label never occurred.
func (m *ConfusionMatrix) Recall(label int) float64 {
	l := clampLabel(label)
	actual := m[l][0] + m[l][1]
	if actual == 0 {
		return 0
	}
	return float64(m[l][l]) / float64(actual)
}

func (m *ConfusionMatrix) F1(label int) float64 {
	p, r := m.Precision(label), m.Recall(label)
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// String renders the matrix with Non-Snore / Snore axes.
func (m *ConfusionMatrix) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-15s %10s %10s\n", "Actual \\ Pred", LabelName(LabelNonSnore), LabelName(LabelSnore))
	for _, actual := range []int{LabelNonSnore, LabelSnore} {
		fmt.Fprintf(&b, "%-15s %10d %10d\n", LabelName(actual), m[actual][LabelNonSnore], m[actual][LabelSnore])
	}
	return b.String()
}

func clampLabel(l int) int {
	if l == LabelSnore {
		return LabelSnore
	}
	return LabelNonSnore
}
