// Package gm is the extension API. This copy only carries signatures so
// editors can type-check extensions; the client supplies the real
// implementations when it loads them.
package gm

// Triggers
func AddTrigger(pattern, template string)                    {}
func AddTriggerFn(pattern string, handler func(line string)) {}

// Aliases and commands
func AddAlias(expression, template string)                                {}
func RegisterCommand(name, description string, handler func(args string)) {}

// Output
func Send(cmd string)   {}
func Echo(text string)  {}
func Notify(msg string) {}

// Variables
func GetVar(name string) string { return "" }
func SetVar(name, value string) {}
func Character() string         { return "" }
