/*
Luraph Deobfuscator (Entry Point)

This tool reads Lua source files protected by the Luraph obfuscator
(v11.5 - v11.8.1) and recovers a readable Lua rendition plus a Lua 5.3
bytecode image that a stock interpreter can load.
*/
package main

import (
	"github.com/whit3rabbit/unluraph/cmd/unluraph/cmd"
)

// main is the entry point of the application.
func main() {
	cmd.Execute()
}
