package main

import "github.com/markb/sqlbridge/cmd"

func main() {
	cmd.Execute()
}
