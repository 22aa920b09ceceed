package zeroshot

// Label is one classification result.
type Label struct {
	// Text is the candidate label as supplied by the caller.
	Text string `json:"text"`
	// Score is a probability in [0, 1].
	Score float64 `json:"score"`
	// ID indexes the caller's label list.
	ID int `json:"id"`
	// Sentence indexes the caller's input list.
	Sentence int `json:"sentence"`
}
