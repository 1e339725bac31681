// Package command turns chat text into a Command.
//
// Grammar (whitespace-delimited, verb case-insensitive, optional leading "/"):
//
//	add|send|spam <mention> <intervalSeconds> <text...>
//	update <timestamp> <intervalSeconds>
//	delete|remove <timestamp>
//	pause|deactivate <timestamp>
//	unpause|activate <timestamp>
//	list
//	help
//
// A timestamp is the literal createdAt string ("2006-01-02 15:04:05") and
// therefore contains a space. Anything that does not match is not a command.
package command
