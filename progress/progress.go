// Package progress defines the one-argument textual event sink that is
// the core's only observable UI contract.
package progress

import "fmt"

// Sink receives human-readable progress events. A nil Sink is valid and
// discards events.
type Sink func(string)

// Emit formats and calls sink if non-nil.
func Emit(sink Sink, format string, args ...any) {
	if sink == nil {
		return
	}
	if len(args) == 0 {
		sink(format)
		return
	}
	sink(fmt.Sprintf(format, args...))
}
