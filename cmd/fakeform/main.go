package main

import (
	"flag"
	"log"
	"net"
	"net/url"
)

// fakeform sends one form body straight to the ingest listener, skipping
// the HTTP front door.
func main() {
	addr := flag.String("address", "127.0.0.1:4000", "ingest listener address")
	name := flag.String("name", "Jane", "value of the username field")
	message := flag.String("message", "hello", "value of the message field")
	raw := flag.String("raw", "", "send this body as is instead of the fields")
	flag.Parse()

	body := *raw
	if body == "" {
		v := url.Values{}
		v.Set("username", *name)
		v.Set("message", *message)
		body = v.Encode()
	}
	c, err := net.Dial("udp", *addr)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()
	n, err := c.Write([]byte(body))
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("sent %d bytes to %s: %s\n", n, *addr, body)
}
