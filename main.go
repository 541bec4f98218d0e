package main

import "github.com/alG-N/alterGoldenBot-sub008/cmd"

func main() {
	cmd.Execute()
}
