// SPDX-License-Identifier: MPL-2.0

package platform

import "strings"

// windowsReservedNames are device names Windows reserves in every directory,
// with or without an extension.
var windowsReservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true,
	"COM5": true, "COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true,
	"LPT5": true, "LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// IsWindowsReservedName reports whether a single path element names a
// Windows device. Only the part before the first dot is compared, so
// "nul.txt" and "con.tar.gz" are reserved too.
func IsWindowsReservedName(name string) bool {
	base, _, _ := strings.Cut(name, ".")
	return windowsReservedNames[strings.ToUpper(strings.TrimRight(base, " "))]
}

// PortablePath reports whether no element of the slash-separated path p
// is a Windows reserved name, so that p extracts on every platform.
func PortablePath(p string) bool {
	for elem := range strings.SplitSeq(p, "/") {
		if IsWindowsReservedName(elem) {
			return false
		}
	}
	return true
}
