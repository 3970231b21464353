package fieldwatch

import "context"

// Element is the slice of the DOM the observer needs. Implementations exist
// for an in-memory tree (memdom) and for a live Chrome page (roddom).
type Element interface {
	// Closest returns the nearest inclusive ancestor matching selector, or
	// nil with a nil error when there is none.
	Closest(ctx context.Context, selector string) (Element, error)
	// Query returns the first descendant matching selector, or nil with a
	// nil error when there is none.
	Query(ctx context.Context, selector string) (Element, error)
	// Value reads the element's current value property.
	Value(ctx context.Context) (string, error)
	// Listen registers fn for each named DOM event and returns a function
	// removing every registration.
	Listen(ctx context.Context, events []string, fn func()) (remove func(), err error)
}
