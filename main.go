package main

import "rentmail/cmd"

func main() {
	cmd.Execute()
}
