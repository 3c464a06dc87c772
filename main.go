package main

import "github.com/xiaot623/gogo/gateway/cmd"

func main() {
	cmd.Execute()
}
