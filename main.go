package main

import "github.com/crystaldolphin/whatscast/cmd"

func main() {
	cmd.Execute()
}
