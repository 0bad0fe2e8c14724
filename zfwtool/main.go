package main

import "zfw-tools/go/zfwtool/cmd"

func main() {
	cmd.Execute()
}
