package steering

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	readTimeout  = 5 * time.Minute
	writeTimeout = 5 * time.Second
)

// Client is the websocket connection to the steering controller. One
// reader goroutine feeds the queue; Send is safe for the engine loop to
// call between parallel phases.
type Client struct {
	conn  *websocket.Conn
	queue *Queue
	log   *log.Logger

	writeMu sync.Mutex
	done    chan struct{}
}

// Dial connects to the controller and starts the reader goroutine.
func Dial(url string, queue *Queue, logger *log.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{conn: conn, queue: queue, log: logger, done: make(chan struct{})}

	// Controller pings keep an otherwise quiet channel alive.
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeTimeout))
	})

	go c.readLoop()
	return c, nil
}

// readLoop receives frames until an error or an explicit stop. A receive
// failure is modeled as an implicit Stop command; the engine's own Stop
// path triggers it by closing the connection.
func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.log.Printf("steering: receive failed: %v", err)
			if !c.queue.Put(Request{Cmd: Stop}) {
				c.log.Printf("steering: queue full, stop dropped")
			}
			return
		}
		for _, part := range strings.Split(string(msg), ";") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			req, err := ParseMessage(part)
			if err != nil {
				c.log.Printf("steering: %v", err)
				continue
			}
			if !c.queue.Put(req) {
				c.log.Printf("steering: queue full, dropped %s", req.Cmd)
			}
			if req.Cmd == Stop {
				return
			}
		}
	}
}

// Send delivers one outbound notification as a text frame.
func (c *Client) Send(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// Close closes the connection and waits for the reader goroutine to
// finish.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}
