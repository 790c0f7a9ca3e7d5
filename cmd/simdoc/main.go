package main

import (
	"simdoc/cmd/handlers"
	"simdoc/internal/logger"
)

func main() {
	logger.Init()
	handlers.Execute()
}
