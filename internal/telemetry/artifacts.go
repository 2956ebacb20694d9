package telemetry

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	pingArtifactName = "test_request.txt"
	tagArtifactName  = "test_tag_request.txt"
)

// ArtifactWriter drops the constructed ping URL and tag payload at fixed
// paths so integration tests can observe what would have been sent. A
// nil writer disables artifacts entirely.
type ArtifactWriter struct {
	Dir string
}

// WritePingURL records the usage-ping URL.
func (w *ArtifactWriter) WritePingURL(url string) {
	if w == nil {
		return
	}
	w.write(pingArtifactName, []byte(url))
}

// WriteTagPayload records the tag key/value as indented JSON, matching
// what the control-plane call carried.
func (w *ArtifactWriter) WriteTagPayload(key, value string) {
	if w == nil {
		return
	}
	payload := struct {
		Key   string
		Value string
	}{key, value}
	data, err := json.MarshalIndent(payload, "", "    ")
	if err != nil {
		slog.Debug("marshal tag artifact failed", "err", err)
		return
	}
	w.write(tagArtifactName, data)
}

func (w *ArtifactWriter) write(name string, data []byte) {
	path := filepath.Join(w.Dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		slog.Debug("write artifact failed", "path", path, "err", err)
	}
}
