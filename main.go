package main

import "github.com/dominodatalab/stevedore/cmd"

func main() {
	cmd.Execute()
}
