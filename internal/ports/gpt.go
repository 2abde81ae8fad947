package ports

import "context"

// DraftAssistant rewrites a reviewed transcript into the structure of a report
// template. It is only ever invoked on explicit operator request.
type DraftAssistant interface {
	Rewrite(
		ctx context.Context,
		guidance string,
		text string,
	) (string, error)
}
