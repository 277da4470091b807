package main

import "github.com/varalys/fimwatch/cmd/fimwatch"

func main() { fimwatch.Execute() }
