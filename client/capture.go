package client

import (
	"sync"

	"github.com/room4-2/voicebridge/audio"
)

// bargeThreshold is the block RMS above which the user is considered to be
// talking over the assistant.
const bargeThreshold = 0.005

// captureQueue bounds the blocks waiting between the device callback and the sender
const captureQueue = 8

// Microphone delivers fixed-size mono blocks at its native rate. The callback
// runs on the device thread and must not block.
type Microphone interface {
	SampleRate() int
	Start(onBlock func(block []float32)) error
	Stop() error
}

type captureSink interface {
	SendAudio(b64 string) error
	Speaking() bool
	BargeIn() bool
}

// Capture turns microphone blocks into audio envelopes. Push only queues;
// run does the encoding and the network writes.
type Capture struct {
	mic  Microphone
	sink captureSink

	blocks chan []float32
	done   chan struct{}

	mu    sync.Mutex
	level float64

	stopOnce sync.Once
	stopErr  error
}

func newCapture(mic Microphone, sink captureSink) *Capture {
	return &Capture{
		mic:    mic,
		sink:   sink,
		blocks: make(chan []float32, captureQueue),
		done:   make(chan struct{}),
	}
}

// Push hands a block over from the device callback. It never blocks; the
// block is dropped when the queue is full or capture has stopped. Push takes
// ownership of block.
func (c *Capture) Push(block []float32) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.blocks <- block:
	default:
	}
}

// run processes queued blocks until Stop
func (c *Capture) run() error {
	for {
		select {
		case <-c.done:
			return nil
		case block := <-c.blocks:
			c.Process(block)
		}
	}
}

// Process handles one microphone block
func (c *Capture) Process(block []float32) {
	v := audio.RMS(block)

	c.mu.Lock()
	c.level = c.level*0.6 + v*1.2
	c.mu.Unlock()

	pcm := audio.Resample(block, c.mic.SampleRate(), audio.InputRate)
	if err := c.sink.SendAudio(audio.Encode(pcm)); err != nil {
		return
	}

	if c.sink.Speaking() && v > bargeThreshold {
		c.sink.BargeIn()
	}
}

// Level is the smoothed input level. It is not capped.
func (c *Capture) Level() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// Stop releases the microphone and ends run. Safe to call more than once.
func (c *Capture) Stop() error {
	c.stopOnce.Do(func() {
		c.stopErr = c.mic.Stop()
		close(c.done)
	})
	return c.stopErr
}
