// Package functions holds the side-channel tools the relay can consult while a
// live session runs. Today that is question answering against a reference
// document uploaded once per process.
package functions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

const (
	maxPollAttempts = 20
	pollInterval    = 300 * time.Millisecond

	defaultDocMIMEType = "application/pdf"
)

var (
	ErrUploadFailed   = errors.New("document upload failed")
	ErrDocUnavailable = errors.New("document unavailable")
)

// DocRef identifies an uploaded document. Immutable once created.
type DocRef struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType"`
}

// UploadState is a step of the upload state machine
type UploadState int

const (
	StateUploading UploadState = iota
	StatePolling
	StateActive
	StateFailed
)

func (s UploadState) String() string {
	switch s {
	case StateUploading:
		return "uploading"
	case StatePolling:
		return "polling"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FileStore uploads files and reads their processing state
type FileStore interface {
	Upload(ctx context.Context, path string) (*genai.File, error)
	Get(ctx context.Context, name string) (*genai.File, error)
}

// Uploader turns a local file into a DocRef the model can read.
type Uploader struct {
	store FileStore
	log   zerolog.Logger

	maxPollAttempts int
	pollInterval    time.Duration
	wait            func(ctx context.Context, d time.Duration) error

	// OnTransition, when set, observes every state change.
	OnTransition func(from, to UploadState)
}

// NewUploader creates an uploader with the default polling budget
func NewUploader(store FileStore, log zerolog.Logger) *Uploader {
	return &Uploader{
		store:           store,
		log:             log,
		maxPollAttempts: maxPollAttempts,
		pollInterval:    pollInterval,
		wait:            sleepCtx,
	}
}

// Upload sends path to the store and polls until the file is ACTIVE.
// If polling runs out while the file already has a URI, the ref is returned
// anyway; the model usually accepts it by the time the first question arrives.
func (u *Uploader) Upload(ctx context.Context, path string) (DocRef, error) {
	var (
		state    = StateUploading
		file     *genai.File
		name     string
		attempts int
		err      error
	)

	move := func(to UploadState) {
		u.log.Debug().Str("from", state.String()).Str("to", to.String()).Msg("document upload")
		if u.OnTransition != nil {
			u.OnTransition(state, to)
		}
		state = to
	}

	for {
		switch state {
		case StateUploading:
			file, err = u.store.Upload(ctx, path)
			if err != nil {
				err = fmt.Errorf("%w: %w", ErrUploadFailed, err)
				move(StateFailed)
				continue
			}
			if file == nil || file.Name == "" {
				err = fmt.Errorf("%w: missing file name", ErrUploadFailed)
				move(StateFailed)
				continue
			}
			name = file.Name
			move(StatePolling)

		case StatePolling:
			meta, getErr := u.store.Get(ctx, name)
			if getErr != nil {
				err = fmt.Errorf("%w: failed to get file %s: %w", ErrUploadFailed, name, getErr)
				move(StateFailed)
				continue
			}
			file = merge(file, meta)

			switch file.State {
			case genai.FileStateActive:
				move(StateActive)
				continue
			case genai.FileStateFailed:
				err = fmt.Errorf("%w: processing failed for %s", ErrUploadFailed, name)
				move(StateFailed)
				continue
			}

			if attempts >= u.maxPollAttempts {
				if file.URI == "" {
					err = fmt.Errorf("%w: missing file uri", ErrUploadFailed)
					move(StateFailed)
					continue
				}
				u.log.Warn().Str("file", name).Str("state", string(file.State)).Msg("document not active after polling, using it anyway")
				move(StateActive)
				continue
			}
			attempts++
			if waitErr := u.wait(ctx, u.pollInterval); waitErr != nil {
				err = waitErr
				move(StateFailed)
			}

		case StateActive:
			if file.URI == "" {
				return DocRef{}, fmt.Errorf("%w: missing file uri", ErrUploadFailed)
			}
			mimeType := file.MIMEType
			if mimeType == "" {
				mimeType = defaultDocMIMEType
			}
			return DocRef{Name: file.Name, URI: file.URI, MIMEType: mimeType}, nil

		case StateFailed:
			return DocRef{}, err
		}
	}
}

// merge prefers fresh metadata but keeps fields the poll response left empty
func merge(prev, next *genai.File) *genai.File {
	if next == nil {
		return prev
	}
	out := *next
	if out.Name == "" {
		out.Name = prev.Name
	}
	if out.URI == "" {
		out.URI = prev.URI
	}
	if out.MIMEType == "" {
		out.MIMEType = prev.MIMEType
	}
	return &out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
