//go:build extension

package main

import "gm"

const extensionName = "Tell Alert"
const extensionAuthor = "Examples"
const extensionAPIVersion = 1

// Init pops a desktop notification for every tell.
func Init() {
	gm.AddTriggerFn(`^(\w+) tells you`, func(line string) {
		gm.Notify(line)
	})
}
