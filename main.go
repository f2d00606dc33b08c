package main

import "github.com/cimlabs/alchemist/cmd"

func main() {
	cmd.Execute()
}
