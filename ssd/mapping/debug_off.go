//go:build !ftldebug

package mapping

import "github.com/sarchlab/ssdsim/internal/logging"

// Release builds log the violation and carry on with the formula result.
func contractViolation(msg string) {
	logging.Default().WithComponent("mapping").Error("address contract violated",
		"detail", msg)
}
