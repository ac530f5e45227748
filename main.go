package main

import "github.com/shouni/go-link-harvester/cmd"

func main() {
	cmd.Execute()
}
