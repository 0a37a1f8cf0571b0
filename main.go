package main

import "github.com/sunbk201/rulesync/cmd"

func main() {
	cmd.Execute()
}
