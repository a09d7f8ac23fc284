package server

import (
	"context"
	"errors"

	"ytrelay/formats"
	"ytrelay/metadata"
	"ytrelay/platform"
	"ytrelay/transfer"
)

// Previewer answers the metadata and quality preview endpoints, caching
// what it extracts per URL.
type Previewer struct {
	Classifier transfer.Classifier
	Registry   *platform.Registry
	Extractor  transfer.Extractor
	Cache      *metadata.Cache
	Policy     formats.Policy
}

// Classify identifies the platform of url.
func (p *Previewer) Classify(ctx context.Context, url string) platform.Classification {
	return p.Classifier.Classify(ctx, url)
}

// Load returns the normalised metadata and format list of url. Errors
// are *metadata.ExtractionError values.
func (p *Previewer) Load(ctx context.Context, url string) (metadata.Entry, error) {
	load := func(ctx context.Context) (metadata.Entry, error) {
		cls := p.Classify(ctx, url)
		raw, err := p.Extractor.Extract(ctx, url, p.Registry.Config(cls.Platform))
		if err != nil {
			return metadata.Entry{}, metadata.ClassifyError(cls.Platform, err)
		}
		return metadata.Entry{
			Metadata:   metadata.Normalize(raw, url, cls.Platform),
			Candidates: formats.ParseCandidates(raw),
		}, nil
	}
	if p.Cache == nil {
		return load(ctx)
	}
	return p.Cache.GetOrLoad(ctx, url, load)
}

// Qualities ranks the formats of a loaded entry.
func (p *Previewer) Qualities(e metadata.Entry) []formats.Quality {
	return formats.Rank(e.Candidates, float64(e.Metadata.DurationSeconds), p.Policy)
}

func previewKind(err error) string {
	var xerr *metadata.ExtractionError
	if errors.As(err, &xerr) {
		return xerr.Kind.String()
	}
	return "generic"
}
