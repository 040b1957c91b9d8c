package main

import "github.com/openmentor/mentorgate/cmd"

func main() {
	cmd.Execute()
}
