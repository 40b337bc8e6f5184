package main

import (
	"time"

	"github.com/rs/zerolog/log"
)

func loopSafely(f func()) {
	defer func() {
		if v := recover(); v != nil {
			log.Error().Interface("panic", v).Msg("Recovered, restarting")
			time.Sleep(time.Second)
			go loopSafely(f)
		}
	}()

	for {
		f()
	}
}
