package main

import (
	"fmt"
	"net/http"

	"github.com/barterlabs/go-barter/env"
	"github.com/barterlabs/go-barter/server"
	"github.com/barterlabs/go-barter/service/logger"
)

func main() {
	server.Init()

	port := env.GetInt(nil, "PORT")
	logger.For(nil).Infof("listening on :%d", port)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", port), nil); err != nil {
		logger.For(nil).Fatal(err)
	}
}
