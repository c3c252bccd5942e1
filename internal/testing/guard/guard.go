// Package guard forces test mode before any runtime package reads the
// flag. Blank-import it from tests that touch runtime wiring.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("STOCKLINE_TEST_MODE") == "" {
			_ = os.Setenv("STOCKLINE_TEST_MODE", "1")
		}
	})
}
