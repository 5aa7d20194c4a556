package publisher

import (
	"fmt"
	"sync"
	"time"

	"github.com/ShowMax/go-fqdn"
	zmq "github.com/pebbe/zmq4"

	log "github.com/skaes/webvitals-tools/logging"
	"github.com/skaes/webvitals-tools/util"
)

const (
	HeartbeatInterval = 5
)

// Publisher forwards messages to downstream consumers.
type Publisher interface {
	Publish(appEnv string, routingKey string, data []byte)
}

type Opts struct {
	Compression        byte
	DeviceId           uint32
	OutputPort         uint
	OutputSpec         string
	SendHwm            int
	SuppressHeartbeats bool // only used for testing
}

// ZmqPublisher publishes multipart messages on a zeromq PUB socket:
// app-env, routing key, payload and a meta info frame.
type ZmqPublisher struct {
	opts             Opts
	publisherChannel chan *pubMsg
	sequenceNum      uint64
	publisherSocket  *zmq.Socket
}

// New binds the publisher socket and starts publishing until done is
// closed.
func New(wg *sync.WaitGroup, done <-chan struct{}, opts Opts) (*ZmqPublisher, error) {
	p := ZmqPublisher{opts: opts}
	p.publisherChannel = make(chan *pubMsg, 10000)
	socket, err := p.setupPublisherSocket()
	if err != nil {
		return nil, err
	}
	p.publisherSocket = socket
	wg.Add(1)
	go p.publish(wg, done)
	return &p, nil
}

type pubMsg struct {
	appEnv      string
	routingKey  string
	data        []byte
	compression byte
}

func (p *ZmqPublisher) nextSequenceNumber() uint64 {
	p.sequenceNum++
	return p.sequenceNum
}

func (p *ZmqPublisher) sendMessage(socket *zmq.Socket, msg *pubMsg) {
	socket.SendBytes([]byte(msg.appEnv), zmq.SNDMORE)
	socket.SendBytes([]byte(msg.routingKey), zmq.SNDMORE)
	socket.SendBytes(msg.data, zmq.SNDMORE)
	meta := util.PackInfo(p.nextSequenceNumber(), p.opts.DeviceId, msg.compression)
	socket.SendBytes(meta, 0)
}

func (p *ZmqPublisher) pubSocketSpecForConnecting() string {
	return fmt.Sprintf("tcp://%s:%d", fqdn.Get(), p.opts.OutputPort)
}

func (p *ZmqPublisher) sendHeartbeat(socket *zmq.Socket) {
	if p.opts.SuppressHeartbeats {
		return
	}
	socket.SendBytes([]byte("heartbeat"), zmq.SNDMORE)
	socket.SendBytes([]byte(p.pubSocketSpecForConnecting()), zmq.SNDMORE)
	socket.SendBytes([]byte("{}"), zmq.SNDMORE)
	meta := util.PackInfo(p.nextSequenceNumber(), p.opts.DeviceId, util.NoCompression)
	socket.SendBytes(meta, 0)
}

func (p *ZmqPublisher) publish(wg *sync.WaitGroup, done <-chan struct{}) {
	defer wg.Done()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	var ticks uint64
	for {
		select {
		case msg := <-p.publisherChannel:
			p.sendMessage(p.publisherSocket, msg)
		case <-ticker.C:
			ticks++
			if ticks%(HeartbeatInterval*10) == 0 {
				p.sendHeartbeat(p.publisherSocket)
			}
		case <-done:
			if err := p.publisherSocket.Close(); err != nil {
				log.Error("could not close publisher socket on shut down: %s", err)
			}
			return
		}
	}
}

func (p *ZmqPublisher) setupPublisherSocket() (*zmq.Socket, error) {
	publisher, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, fmt.Errorf("could not create publisher socket: %w", err)
	}
	publisher.SetLinger(1000)
	publisher.SetSndhwm(p.opts.SendHwm)
	if err := publisher.Bind(p.opts.OutputSpec); err != nil {
		publisher.Close()
		return nil, fmt.Errorf("could not bind publisher socket to %s: %w", p.opts.OutputSpec, err)
	}
	return publisher, nil
}

// Compress applies method to data unless that fails or does not make the
// data smaller. It returns the data to send and the method actually used.
func Compress(data []byte, method byte) ([]byte, byte) {
	if method == util.NoCompression {
		return data, util.NoCompression
	}
	compressed, err := util.Compress(data, method)
	if err != nil || len(compressed) >= len(data) {
		return data, util.NoCompression
	}
	return compressed, method
}

// Publish hands a message to the publisher goroutine, optionally
// compressing it.
func (p *ZmqPublisher) Publish(appEnv string, routingKey string, data []byte) {
	data, usedCompression := Compress(data, p.opts.Compression)
	p.publisherChannel <- &pubMsg{appEnv: appEnv, routingKey: routingKey, data: data, compression: usedCompression}
}
