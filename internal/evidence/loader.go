package evidence

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agenthands/partgraph/internal/apperr"
	"github.com/agenthands/partgraph/internal/core/model"
)

// CorruptFile is a file LoadDir could not turn into a record.
type CorruptFile struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

type LoadReport struct {
	Files   int           `json:"files"`
	Loaded  int           `json:"loaded"`
	Corrupt []CorruptFile `json:"corrupt"`
}

// LoadDir reads a scrape archive laid out as <root>/<source>/<session>/*.json,
// one record per file. Files that cannot be read or decoded are reported as
// CORRUPT_EVIDENCE and skipped. Records come back sorted by source, session
// and file name.
func LoadDir(root string, maxDepth int) ([]model.RawEvidenceRecord, *LoadReport, error) {
	if maxDepth <= 0 {
		maxDepth = model.DefaultMaxDepth
	}
	report := &LoadReport{Corrupt: []CorruptFile{}}
	sources, err := subdirs(root)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read evidence directory '%s': %w", root, err)
	}

	var records []model.RawEvidenceRecord
	for _, source := range sources {
		sessions, err := subdirs(filepath.Join(root, source))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read source directory '%s': %w", source, err)
		}
		for _, session := range sessions {
			files, err := filepath.Glob(filepath.Join(root, source, session, "*.json"))
			if err != nil {
				return nil, nil, err
			}
			sort.Strings(files)
			for _, path := range files {
				report.Files++
				rec, err := loadFile(path, source, session, maxDepth)
				if err != nil {
					report.Corrupt = append(report.Corrupt, CorruptFile{Path: path, Error: err.Error()})
					continue
				}
				records = append(records, rec)
				report.Loaded++
			}
		}
	}
	return records, report, nil
}

func loadFile(path, source, session string, maxDepth int) (model.RawEvidenceRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.RawEvidenceRecord{}, apperr.Corrupt(err, "cannot read %s", filepath.Base(path))
	}
	payload, err := model.ParsePayload(data, maxDepth)
	if err != nil {
		return model.RawEvidenceRecord{}, apperr.Corrupt(err, "cannot decode %s", filepath.Base(path))
	}

	file := filepath.Base(path)
	queried := queriedID(payload)
	if queried == "" {
		// search_0131M00008P_20240101.json style names carry the query.
		stem := strings.TrimSuffix(file, filepath.Ext(file))
		parts := strings.Split(stem, "_")
		queried = parts[0]
		if len(parts) > 1 {
			queried = parts[1]
		}
	}
	return model.RawEvidenceRecord{
		Source:    source,
		Session:   session,
		File:      file,
		QueriedID: queried,
		Payload:   payload,
	}, nil
}

func queriedID(payload model.Value) string {
	for _, key := range []string{"queried_id", "query", "part_number"} {
		if s := strings.TrimSpace(payload.GetString(key)); s != "" {
			return s
		}
	}
	if data, ok := payload.Get("data"); ok {
		return strings.TrimSpace(data.GetString("part_number"))
	}
	return ""
}

func subdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e.Name())
		}
	}
	return out, nil
}
