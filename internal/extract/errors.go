package extract

import "fmt"

// Sections reported by ExtractError.
const (
	SectionIndex = "index"
	SectionEntry = "entry"
)

// ExtractError reports markup that did not have the expected structure. It
// keeps the offending document so callers can persist it for inspection.
type ExtractError struct {
	Section string
	Markup  []byte
	Err     error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Section, e.Err)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

func newExtractError(section string, markup []byte, err error) *ExtractError {
	return &ExtractError{Section: section, Markup: markup, Err: err}
}
