package fetch

import (
	"sort"

	"github.com/zeroinstall/implstore/store"
)

// rankMethods orders candidate retrieval methods per spec §6's
// preference rule: direct downloads before recipes (recipes run more
// steps and are more likely to fail partway through), then smaller
// declared size first (fail cheaply before committing to a large
// transfer), then fewer recipe steps first, with a stable tie-break
// that preserves the feed's original ordering for methods that compare
// equal on every criterion.
func rankMethods(methods []store.RetrievalMethod) []store.RetrievalMethod {
	ranked := make([]store.RetrievalMethod, len(methods))
	copy(ranked, methods)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		aIsDownload := a.Kind == store.MethodDownload
		bIsDownload := b.Kind == store.MethodDownload
		if aIsDownload != bIsDownload {
			return aIsDownload
		}
		if a.DeclaredSize != b.DeclaredSize {
			return a.DeclaredSize < b.DeclaredSize
		}
		return a.StepCount() < b.StepCount()
	})
	return ranked
}
