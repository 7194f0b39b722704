package main

import "github.com/oshokin/symdeploy/cmd/symdeploy/cmd"

func main() {
	cmd.Execute()
}
