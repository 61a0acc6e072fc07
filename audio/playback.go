package audio

import "sync"

// Player queues decoded assistant audio until the output device clock pulls it.
// Enqueue/Flush/Pause/Resume run on the message goroutine; Drain runs on the
// device callback. The mutex is only held while chunks are copied.
type Player struct {
	mu       sync.Mutex
	chunks   [][]float32
	buffered int
	paused   bool
	level    float64
}

// NewPlayer creates an empty, running playback queue
func NewPlayer() *Player {
	return &Player{
		chunks: make([][]float32, 0),
	}
}

// Enqueue appends a chunk to the tail of the queue. The queue is unbounded.
func (p *Player) Enqueue(chunk []float32) {
	if len(chunk) == 0 {
		return
	}
	v := RMS(chunk)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunks = append(p.chunks, chunk)
	p.buffered += len(chunk)
	p.level = p.level*0.6 + v*0.8
}

// Drain fills out from the head of the queue and zero-fills any shortfall.
// It returns the number of queued samples copied. While paused it writes
// silence and leaves the queue untouched.
func (p *Player) Drain(out []float32) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	if !p.paused {
		for n < len(out) && len(p.chunks) > 0 {
			head := p.chunks[0]
			c := copy(out[n:], head)
			n += c
			if c == len(head) {
				p.chunks[0] = nil
				p.chunks = p.chunks[1:]
			} else {
				p.chunks[0] = head[c:]
			}
		}
		p.buffered -= n
	}

	clear(out[n:])
	return n
}

// Flush drops everything queued but not yet played
func (p *Player) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.chunks = make([][]float32, 0)
	p.buffered = 0
}

// Pause makes Drain output silence until Resume
func (p *Player) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Resume undoes Pause
func (p *Player) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
}

// Paused reports whether the queue is paused
func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Buffered returns the number of samples waiting to be played
func (p *Player) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffered
}

// ChunkCount returns the number of chunks in the queue
func (p *Player) ChunkCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.chunks)
}

// Level returns the smoothed output level, for UI feedback only
func (p *Player) Level() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}
