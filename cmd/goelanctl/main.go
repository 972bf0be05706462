// goelanctl -- CLI client for the goelan daemon admin API.
package main

import "github.com/dantte-lp/goelan/cmd/goelanctl/commands"

func main() {
	commands.Execute()
}
