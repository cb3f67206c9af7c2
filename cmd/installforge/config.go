package main

import "path/filepath"

// stateDir is where packages.xml and its lock live: alongside whichever
// binary's payload this invocation is reading, the conventional
// installer-framework layout where the maintenance tool ships next to the
// installed files it tracks.
func stateDir() string {
	return filepath.Dir(payloadPath())
}
