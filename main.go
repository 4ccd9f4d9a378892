package main

import "webhookrelay/cmd"

func main() {
	cmd.Execute()
}
