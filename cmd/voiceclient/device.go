package main

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/room4-2/voicebridge/audio"
)

// micDevice is the default input device as a client.Microphone
type micDevice struct {
	rate  int
	block int

	mu     sync.Mutex
	stream *portaudio.Stream
}

func newMicDevice(rate, block int) *micDevice {
	return &micDevice{rate: rate, block: block}
}

func (m *micDevice) SampleRate() int { return m.rate }

func (m *micDevice) Start(onBlock func([]float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream != nil {
		return nil
	}

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.rate), m.block, func(in []float32) {
		// portaudio reuses the buffer between callbacks
		onBlock(append([]float32(nil), in...))
	})
	if err != nil {
		return fmt.Errorf("failed to open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start input stream: %w", err)
	}
	m.stream = stream
	return nil
}

func (m *micDevice) Stop() error {
	m.mu.Lock()
	stream := m.stream
	m.stream = nil
	m.mu.Unlock()

	if stream == nil {
		return nil
	}
	if err := stream.Stop(); err != nil {
		stream.Close()
		return err
	}
	return stream.Close()
}

// speaker pulls from the playback queue on the output device clock
type speaker struct {
	stream *portaudio.Stream
}

func openSpeaker(rate int, player *audio.Player) (*speaker, error) {
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(rate), portaudio.FramesPerBufferUnspecified, func(out []float32) {
		player.Drain(out)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start output stream: %w", err)
	}
	return &speaker{stream: stream}, nil
}

func (s *speaker) Close() error {
	if err := s.stream.Stop(); err != nil {
		s.stream.Close()
		return err
	}
	return s.stream.Close()
}
