package inventory

// Summary is the outcome of summarizing one frame.
type Summary struct {
	// Record holds exactly one count per vocabulary item.
	Record Record

	// Unknown lists detected labels outside the vocabulary, in the order they
	// were seen. They are not counted.
	Unknown []string
}

// Summarize converts a frame's detection labels into a zero-filled count
// record over vocab. Labels outside vocab are reported in Summary.Unknown and
// never extend the vocabulary.
func Summarize(vocab Vocabulary, labels []string) (Summary, error) {
	if vocab.Len() == 0 {
		return Summary{}, Configurationf("cannot summarize with an empty vocabulary")
	}
	counts := make(map[ItemClass]int, vocab.Len())
	for _, item := range vocab.items {
		counts[item] = 0
	}
	var unknown []string
	for _, label := range labels {
		item := ItemClass(label)
		if !vocab.Contains(item) {
			unknown = append(unknown, label)
			continue
		}
		counts[item]++
	}
	return Summary{Record: Record{Counts: counts}, Unknown: unknown}, nil
}
