package functions

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// Document is the process-wide reference document. It is uploaded once in the
// background; Ref blocks until that finishes and then always returns the same
// result.
type Document struct {
	path string
	done chan struct{}
	ref  DocRef
	err  error
}

// LoadDocument starts uploading path, reusing a cached upload when the store
// still reports it ACTIVE. cache may be nil.
func LoadDocument(ctx context.Context, path string, uploader *Uploader, store FileStore, cache DocCache, log zerolog.Logger) *Document {
	d := &Document{path: path, done: make(chan struct{})}
	go func() {
		defer close(d.done)
		d.ref, d.err = resolve(ctx, path, uploader, store, cache, log)
		if d.err != nil {
			log.Error().Err(d.err).Str("path", path).Msg("📄 document not attached (upload failed)")
			return
		}
		log.Info().Str("name", d.ref.Name).Msg("📄 document ready")
	}()
	return d
}

// NewReadyDocument wraps an already known ref
func NewReadyDocument(ref DocRef) *Document {
	d := &Document{path: ref.Name, done: make(chan struct{}), ref: ref}
	close(d.done)
	return d
}

func resolve(ctx context.Context, path string, uploader *Uploader, store FileStore, cache DocCache, log zerolog.Logger) (DocRef, error) {
	if cache != nil {
		ref, ok, err := cache.Load(ctx, path)
		if err != nil {
			log.Warn().Err(err).Msg("doc cache unavailable")
		}
		if ok {
			if meta, err := store.Get(ctx, ref.Name); err == nil && meta != nil && meta.State == genai.FileStateActive {
				log.Debug().Str("name", ref.Name).Msg("reusing cached document upload")
				return ref, nil
			}
		}
	}

	ref, err := uploader.Upload(ctx, path)
	if err != nil {
		return DocRef{}, err
	}

	if cache != nil {
		if err := cache.Store(ctx, path, ref); err != nil {
			log.Warn().Err(err).Msg("failed to cache document upload")
		}
	}
	return ref, nil
}

// Failed reports whether the upload has finished unsuccessfully. It does not block.
func (d *Document) Failed() bool {
	select {
	case <-d.done:
		return d.err != nil
	default:
		return false
	}
}

// Ref waits for the upload and returns its outcome
func (d *Document) Ref(ctx context.Context) (DocRef, error) {
	select {
	case <-d.done:
	case <-ctx.Done():
		return DocRef{}, ctx.Err()
	}
	if d.err != nil {
		return DocRef{}, fmt.Errorf("%w: %w", ErrDocUnavailable, d.err)
	}
	return d.ref, nil
}

// DocQA answers user questions against the shared document
type DocQA struct {
	doc      *Document
	answerer *Answerer
}

func NewDocQA(doc *Document, answerer *Answerer) *DocQA {
	return &DocQA{doc: doc, answerer: answerer}
}

// Available is false once the document is known to be missing. A pending
// upload still counts as available; Answer waits for it.
func (q *DocQA) Available() bool {
	return !q.doc.Failed()
}

// Answer returns a grounded answer, or ErrDocUnavailable if the upload failed
func (q *DocQA) Answer(ctx context.Context, question, languageHint string) (string, error) {
	ref, err := q.doc.Ref(ctx)
	if err != nil {
		return "", err
	}
	return q.answerer.Ask(ctx, ref, question, languageHint)
}
