package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"flight-deal-alerts/internal/offer"
)

// FileSource reads offer batches from JSON files in a directory, one file
// per route/date named ORIGIN-DEST-DEPART[-RETURN].json. A missing file
// means the scrape produced nothing for that attempt.
type FileSource struct {
	dir    string
	logger zerolog.Logger
}

// NewFileSource constructs a directory-backed offer source.
func NewFileSource(dir string, logger zerolog.Logger) *FileSource {
	return &FileSource{
		dir:    dir,
		logger: logger.With().Str("component", "file_source").Logger(),
	}
}

// Fetch loads and normalizes the batch file for one request.
func (s *FileSource) Fetch(_ context.Context, req Request) ([]offer.Offer, error) {
	path := filepath.Join(s.dir, batchFileName(req))

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}

	var raws []rawOffer
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode batch file %s: %w", path, err)
	}

	offers := normalizeBatch(raws, req)
	s.logger.Debug().
		Str("file", path).
		Int("raw", len(raws)).
		Int("usable", len(offers)).
		Msg("loaded offer batch")

	return offers, nil
}

func batchFileName(req Request) string {
	name := strings.ToUpper(req.Origin) + "-" + strings.ToUpper(req.Dest) + "-" + req.DepartDate
	if req.ReturnDate != "" {
		name += "-" + req.ReturnDate
	}
	return name + ".json"
}

var _ OfferSource = (*FileSource)(nil)
