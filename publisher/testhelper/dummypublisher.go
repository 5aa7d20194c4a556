package testhelper

import "sync"

// DummyPublisher records published messages.
type DummyPublisher struct {
	mutex             sync.Mutex
	PublishedMessages []DummyMessage
}

type DummyMessage struct {
	AppEnv     string
	RoutingKey string
	Data       []byte
}

func NewDummyPublisher() *DummyPublisher {
	return &DummyPublisher{
		PublishedMessages: []DummyMessage{},
	}
}

func (p *DummyPublisher) Publish(appEnv string, routingKey string, data []byte) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.PublishedMessages = append(p.PublishedMessages, DummyMessage{
		AppEnv:     appEnv,
		RoutingKey: routingKey,
		Data:       data,
	})
}

// Messages returns a copy of the published messages.
func (p *DummyPublisher) Messages() []DummyMessage {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]DummyMessage(nil), p.PublishedMessages...)
}
