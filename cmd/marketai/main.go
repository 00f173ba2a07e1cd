// Package main 是 marketai 命令行客户端的入口点。
package main

import "marketai-go/internal/cli"

func main() {
	cli.Execute()
}
