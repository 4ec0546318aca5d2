// SPDX-License-Identifier: MPL-2.0

// escpkg builds, verifies and installs signed component packages.
package main

import cmd "github.com/estream/escpkg/cmd/escpkg"

func main() {
	cmd.Execute()
}
