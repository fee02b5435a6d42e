package main

import "github.com/man-iishkr/RupX/cmd"

func main() {
	cmd.Execute()
}
