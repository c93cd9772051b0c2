package lod

import "fmt"

// debugChecks turns model consistency violations into panics. Tests
// enable it.
var debugChecks = false

func assert(cond bool, format string, args ...any) {
	if debugChecks && !cond {
		panic(fmt.Sprintf("lod: "+format, args...))
	}
}
