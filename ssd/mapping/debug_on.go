//go:build ftldebug

package mapping

import "log"

// Contract violations are fatal in debug builds.
func contractViolation(msg string) {
	log.Panic(msg)
}
