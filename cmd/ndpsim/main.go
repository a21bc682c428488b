// Command ndpsim runs built-in kernels on a simulated NDP unit and reports
// cycle counts and per-stage statistics.
//
// Usage:
//
//	ndpsim run --kernel vecadd --columns 64 -v
//	ndpsim bench --format csv > results.csv
//	ndpsim config > unit.json
//
// The configuration path defaults to $NDPSIM_CONFIG, which may also be set in
// a .env file in the working directory.
package main

import (
	"github.com/joho/godotenv"
	"github.com/tebeka/atexit"
)

func main() {
	// A missing .env file is fine.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
