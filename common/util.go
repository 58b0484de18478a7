package common

import "os"

// Must panics when a call that is not allowed to fail does. Disk transfers and
// key serialization are faults of this kind: there is no retry protocol, the
// current operation terminates.
func Must(err error) {
	if err != nil {
		panic(err)
	}
}

// Remove deletes a database file and ignores errors. Used by tests to clean up.
func Remove(file string) {
	_ = os.Remove(file)
}
