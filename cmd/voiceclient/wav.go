package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/room4-2/voicebridge/audio"
)

const wavHeaderSize = 44

// wavRecorder appends received assistant audio to a mono PCM16 WAV file.
// The header sizes are patched on Close.
type wavRecorder struct {
	mu   sync.Mutex
	f    *os.File
	rate int
	size int
	err  error
}

func newWavRecorder(path string, rate int) (*wavRecorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	r := &wavRecorder{f: f, rate: rate}
	if _, err := f.Write(wavHeader(rate, 0)); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write wav header: %w", err)
	}
	return r, nil
}

func (r *wavRecorder) Write(samples []float32) {
	pcm := audio.EncodePCM(samples)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	n, err := r.f.Write(pcm)
	r.size += n
	r.err = err
}

func (r *wavRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.f.WriteAt(wavHeader(r.rate, r.size), 0); err != nil && r.err == nil {
		r.err = err
	}
	if err := r.f.Close(); err != nil && r.err == nil {
		r.err = err
	}
	return r.err
}

func wavHeader(rate, dataLen int) []byte {
	h := make([]byte, wavHeaderSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+dataLen))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:24], 1) // mono
	binary.LittleEndian.PutUint32(h[24:28], uint32(rate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(rate*2))
	binary.LittleEndian.PutUint16(h[32:34], 2)
	binary.LittleEndian.PutUint16(h[34:36], 16)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataLen))
	return h
}
