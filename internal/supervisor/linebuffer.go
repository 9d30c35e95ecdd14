package supervisor

import "strings"

// lineBuffer accumulates raw output chunks and yields complete lines,
// retaining a trailing partial line across Feed calls. Flush returns (and
// clears) whatever partial line remains, for processing at process close
// per §4.5 ("Any trailing partial line is retained across chunks and
// processed on close").
type lineBuffer struct {
	partial string
}

func (b *lineBuffer) Feed(chunk []byte) []string {
	b.partial += string(chunk)
	if !strings.Contains(b.partial, "\n") {
		return nil
	}
	lines := strings.Split(b.partial, "\n")
	b.partial = lines[len(lines)-1]
	return lines[:len(lines)-1]
}

func (b *lineBuffer) Flush() string {
	rest := b.partial
	b.partial = ""
	return rest
}
