package audio_test

import (
	"sync"
	"testing"

	"github.com/room4-2/voicebridge/audio"
	"github.com/stretchr/testify/assert"
)

func TestPlayer_DrainAcrossChunks(t *testing.T) {
	p := audio.NewPlayer()
	p.Enqueue([]float32{1, 2, 3})
	p.Enqueue([]float32{4, 5})
	p.Enqueue([]float32{6})

	out := make([]float32, 4)
	assert.Equal(t, 4, p.Drain(out))
	assert.Equal(t, []float32{1, 2, 3, 4}, out)
	assert.Equal(t, 2, p.Buffered())
	assert.Equal(t, 2, p.ChunkCount())

	assert.Equal(t, 2, p.Drain(out))
	assert.Equal(t, []float32{5, 6, 0, 0}, out)
	assert.Equal(t, 0, p.Buffered())
	assert.Equal(t, 0, p.ChunkCount())
}

func TestPlayer_DrainEmptyIsSilence(t *testing.T) {
	p := audio.NewPlayer()
	out := []float32{9, 9, 9}
	assert.Equal(t, 0, p.Drain(out))
	assert.Equal(t, []float32{0, 0, 0}, out)
}

func TestPlayer_Flush(t *testing.T) {
	p := audio.NewPlayer()
	p.Enqueue([]float32{1, 2, 3})
	p.Enqueue([]float32{4})
	p.Flush()

	assert.Equal(t, 0, p.Buffered())
	out := make([]float32, 2)
	assert.Equal(t, 0, p.Drain(out))
	assert.Equal(t, []float32{0, 0}, out)

	// queue keeps working after a flush
	p.Enqueue([]float32{7})
	assert.Equal(t, 1, p.Drain(out))
	assert.Equal(t, []float32{7, 0}, out)
}

func TestPlayer_PauseResume(t *testing.T) {
	p := audio.NewPlayer()
	p.Enqueue([]float32{1, 2})
	p.Pause()
	assert.True(t, p.Paused())

	out := []float32{5, 5}
	assert.Equal(t, 0, p.Drain(out))
	assert.Equal(t, []float32{0, 0}, out)
	assert.Equal(t, 2, p.Buffered())

	p.Resume()
	assert.Equal(t, 2, p.Drain(out))
	assert.Equal(t, []float32{1, 2}, out)
}

func TestPlayer_PreservesOrder(t *testing.T) {
	p := audio.NewPlayer()
	var want []float32
	for i := 0; i < 50; i++ {
		chunk := make([]float32, i%7+1)
		for j := range chunk {
			chunk[j] = float32(len(want) + 1)
			want = append(want, chunk[j])
		}
		p.Enqueue(chunk)
	}

	var got []float32
	frame := make([]float32, 5)
	for p.Buffered() > 0 {
		n := p.Drain(frame)
		got = append(got, frame[:n]...)
	}
	assert.Equal(t, want, got)
}

func TestPlayer_ConcurrentProducerConsumer(t *testing.T) {
	p := audio.NewPlayer()
	const chunks = 200

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < chunks; i++ {
			p.Enqueue([]float32{float32(i + 1)})
		}
	}()

	var got []float32
	frame := make([]float32, 3)
	for len(got) < chunks {
		n := p.Drain(frame)
		got = append(got, frame[:n]...)
	}
	wg.Wait()

	for i, v := range got {
		assert.Equal(t, float32(i+1), v)
	}
}

func TestPlayer_Level(t *testing.T) {
	p := audio.NewPlayer()
	assert.Equal(t, 0.0, p.Level())
	p.Enqueue([]float32{0.5, -0.5})
	assert.InDelta(t, 0.4, p.Level(), 1e-9)
}
