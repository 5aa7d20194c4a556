// Package livestream pushes performance alerts to websocket clients.
// New subscribers first receive the most recent alerts.
package livestream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	log "github.com/skaes/webvitals-tools/logging"
)

// Alert is sent to subscribers as a JSON text message.
type Alert struct {
	URL        string `json:"url"`
	Message    string `json:"alert"`
	DeviceType string `json:"deviceType"`
	Timestamp  int64  `json:"timestamp"`
}

const (
	subscribeMsg   = 1
	unsubscribeMsg = 2
)

type wsMsg struct {
	msgType int
	name    string
	channel chan string
}

// Hub fans out alerts to all connected websockets.
type Hub struct {
	wsChannel    chan *wsMsg
	alertChannel chan string
	ring         *StringRing
	channels     map[string]chan string
	connections  int64
	channelSeq   uint64
	done         chan struct{}
	stopOnce     sync.Once
}

func NewHub() *Hub {
	return &Hub{
		wsChannel:    make(chan *wsMsg, 1000),
		alertChannel: make(chan string, 10000),
		ring:         newStringRing(),
		channels:     make(map[string]chan string),
		done:         make(chan struct{}),
	}
}

// Run dispatches alerts and subscriptions until done is closed.
func (h *Hub) Run(wg *sync.WaitGroup, done <-chan struct{}) {
	defer wg.Done()
	defer h.stopOnce.Do(func() { close(h.done) })
	for {
		select {
		case msg := <-h.wsChannel:
			h.handleWebSocketMsg(msg)
		case data := <-h.alertChannel:
			h.ring.Add(data)
			h.sendToWebSockets(data)
		case <-done:
			for name, c := range h.channels {
				delete(h.channels, name)
				close(c)
			}
			return
		}
	}
}

// Broadcast queues an alert. It never blocks; alerts are dropped when
// the queue is full.
func (h *Hub) Broadcast(alert Alert) {
	data, err := json.Marshal(alert)
	if err != nil {
		log.Error("could not encode alert: %s", err)
		return
	}
	select {
	case h.alertChannel <- string(data):
	default:
		log.Warn("alert queue full, dropping alert for %s", alert.URL)
	}
}

// Connections returns the number of open websockets.
func (h *Hub) Connections() int64 {
	return atomic.LoadInt64(&h.connections)
}

func (h *Hub) sendToWebSockets(data string) {
	for name, c := range h.channels {
		select {
		case c <- data:
		default:
			log.Warn("%s: %s", name, errChannelBlocked)
		}
	}
}

func (h *Hub) handleWebSocketMsg(msg *wsMsg) {
	switch msg.msgType {
	case subscribeMsg:
		log.Info("adding live subscription %s", msg.name)
		h.channels[msg.name] = msg.channel
		if err := h.ring.Send(msg.channel); err != nil {
			log.Error("%s", err)
		}
	case unsubscribeMsg:
		if _, ok := h.channels[msg.name]; ok {
			log.Info("removing live subscription %s", msg.name)
			delete(h.channels, msg.name)
			close(msg.channel)
		}
	}
}

func (h *Hub) nextChannelName() string {
	return fmt.Sprintf("c-%d", atomic.AddUint64(&h.channelSeq, 1))
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWs upgrades the connection and streams alerts until the client
// goes away.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if _, ok := err.(websocket.HandshakeError); !ok {
			log.Error("websocket upgrade failed: %s", err)
		}
		return
	}
	defer ws.Close()
	atomic.AddInt64(&h.connections, 1)
	defer atomic.AddInt64(&h.connections, -1)

	input := make(chan string, 1000)
	name := h.nextChannelName()
	select {
	case h.wsChannel <- &wsMsg{msgType: subscribeMsg, name: name, channel: input}:
	case <-h.done:
		return
	}
	go h.wsWriter(ws, input)
	h.wsReader(ws)
	select {
	case h.wsChannel <- &wsMsg{msgType: unsubscribeMsg, name: name, channel: input}:
	case <-h.done:
	}
}

// wsReader consumes client messages until the connection fails.
func (h *Hub) wsReader(ws *websocket.Conn) {
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) wsWriter(ws *websocket.Conn, input chan string) {
	defer ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	for data := range input {
		ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := ws.WriteMessage(websocket.TextMessage, []byte(data)); err != nil {
			return
		}
	}
}
