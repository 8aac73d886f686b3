package citation

import (
	"errors"
	"fmt"
)

// ErrMalformedGrounding is returned when grounding data cannot be trusted to
// produce correct citations. No partial document accompanies it.
var ErrMalformedGrounding = errors.New("malformed grounding")

// InvalidSpanRangeError reports a span whose offsets fall outside the text.
// It matches ErrMalformedGrounding with errors.Is.
type InvalidSpanRangeError struct {
	Index  int // position of the span in the grounding
	Start  int
	End    int
	Length int // rune length of the text
}

func (e *InvalidSpanRangeError) Error() string {
	return fmt.Sprintf("invalid span range: span %d [%d, %d) outside text of length %d", e.Index, e.Start, e.End, e.Length)
}

func (e *InvalidSpanRangeError) Unwrap() error {
	return ErrMalformedGrounding
}
