package main

import "github.com/Davincible/omnitalk-relay/cmd"

func main() {
	cmd.Execute()
}
