package livestream

import "errors"

var errChannelBlocked = errors.New("channel blocked")

const bufSize = 60

// StringRing is a ring buffer of strings.
type StringRing struct {
	buf  [bufSize]string
	last int // points to the most recently added element
	size int // current size
}

func newStringRing() *StringRing {
	p := new(StringRing)
	p.last = -1
	return p
}

func (b *StringRing) Add(val string) {
	if b.size < bufSize {
		b.size += 1
	}
	b.last = (b.last + 1) % bufSize
	b.buf[b.last] = val
}

func (b *StringRing) Size() int {
	return b.size
}

// returns oldest elements first
func (b *StringRing) ForEach(f func(int, string)) {
	if b.size == 0 {
		return
	}
	p := (b.last - b.size + 1) % bufSize
	if p < 0 {
		p = p + bufSize
	}
	for i := 0; i < b.size; i++ {
		f(i, b.buf[p])
		p = (p + 1) % bufSize
	}
}

func (b *StringRing) Send(c chan string) (err error) {
	b.ForEach(func(i int, s string) {
		select {
		case c <- s:
		default:
			if err == nil {
				err = errChannelBlocked
			}
		}
	})
	return err
}
