package main

import "github.com/nullform/llmgateway/cmd"

func main() {
	cmd.Execute()
}
