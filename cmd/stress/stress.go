package main

import (
	"flag"
	"log"
	"math/rand"
	"time"

	"github.com/ambientcast/ambientcast/server"
)

var addr = flag.String("addr", "localhost:8080", "server to stress")
var nPerRoom = flag.Int("nc", 100, "number of clients per room")
var channel = flag.String("channel", "1", "channel to join")
var password = flag.String("password", "", "room password")

var keys = []string{"torches", "rain", "tavern", "wind", "combat1"}

func main() {
	flag.Parse()

	var clients []*server.RemoteClient
	for i := 0; i < *nPerRoom; i++ {
		c, err := server.Dial(nil, "ws://"+*addr+"/ws", *channel, "", *password)
		if err != nil {
			log.Printf("something wrong at n=%d", i)
			log.Fatal(err)
		}
		go c.Run()
		clients = append(clients, c)
	}
	log.Printf("joined %d clients to channel %s", len(clients), *channel)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		c := clients[rand.Intn(len(clients))]
		key := keys[rand.Intn(len(keys))]
		var err error
		if rand.Intn(2) == 0 {
			err = c.Play(key, "", true, rand.Float64())
		} else {
			err = c.Stop(key)
		}
		if err != nil {
			log.Fatal(err)
		}
	}
}
