package answers

// Resolved pairs a question's display text with the formatted answer.
type Resolved struct {
	QuestionText string `json:"questionText"`
	DisplayValue string `json:"displayValue"`
}

// QuestionText is the subset of the question schema the resolver needs.
type QuestionText struct {
	ID   string
	Text string
}

// Resolve maps each bag entry to display text using the supplied question
// set. The set may be a different snapshot than the one live at submission
// time; keys that no longer resolve fall back to the raw key rather than
// being dropped or failing. Output order follows the bag, and questions that
// were never answered are not emitted — the bag drives this list, not the
// question catalog.
func Resolve(bag Bag, questions []QuestionText) []Resolved {
	textByID := make(map[string]string, len(questions))
	for _, q := range questions {
		textByID[q.ID] = q.Text
	}

	out := make([]Resolved, 0, bag.Len())
	for _, key := range bag.Keys() {
		value, _ := bag.Get(key)
		text, ok := textByID[key]
		if !ok {
			text = key
		}
		out = append(out, Resolved{
			QuestionText: text,
			DisplayValue: value.Display(),
		})
	}
	return out
}
