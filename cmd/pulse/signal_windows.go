//go:build windows

package main

import "os"

// terminationSignals on windows is limited to interrupt.
var terminationSignals = []os.Signal{os.Interrupt}
