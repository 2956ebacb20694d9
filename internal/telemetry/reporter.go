package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"dlctelemetry/internal/imds"
)

// DefaultPingTimeout bounds the single usage-ping GET.
const DefaultPingTimeout = 200 * time.Millisecond

// Reporter issues the one usage-ping GET against the per-region bucket.
// It runs only with a complete instance identity; the response body is
// discarded, only the attempt matters.
type Reporter struct {
	Config        Config
	Identity      imds.Identity
	PythonVersion string
	HTTPClient    *http.Client    // nil means http.DefaultClient
	Timeout       time.Duration   // zero means DefaultPingTimeout
	Artifacts     *ArtifactWriter // nil disables artifacts
}

// Run performs the ping and returns a short status for logging. The
// ping is best-effort: nothing here can fail the caller.
func (r *Reporter) Run(ctx context.Context) string {
	if !r.Identity.Complete() {
		slog.Info("usage ping skipped: instance identity incomplete")
		return "skipped"
	}

	url := r.pingURL()
	status := r.get(ctx, url)
	r.Artifacts.WritePingURL(url)
	slog.Debug("usage ping finished", "status", status)
	return status
}

func (r *Reporter) get(ctx context.Context, url string) string {
	timeout := r.Timeout
	if timeout == 0 {
		timeout = DefaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		slog.Debug("build ping request failed", "err", err)
		return "error"
	}

	client := r.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		slog.Debug("usage ping failed", "err", err)
		return "unreachable"
	}
	defer resp.Body.Close()
	return strconv.Itoa(resp.StatusCode)
}

// pingURL embeds identity and image facts as query parameters on a
// zero-byte object in the regional bucket. Parameter order is part of
// the recorded artifact format, so the URL is formatted by hand.
func (r *Reporter) pingURL() string {
	return fmt.Sprintf(
		"https://aws-deep-learning-containers-%[1]s.s3.%[1]s.amazonaws.com"+
			"/dlc-containers-%[2]s.txt?x-instance-id=%[2]s&x-framework=%[3]s&x-framework_version=%[4]s&x-py_version=%[5]s&x-img_type=%[6]s&x-pkg_type=%[7]s",
		r.Identity.Region,
		r.Identity.InstanceID,
		r.Config.Framework,
		r.Config.FrameworkVersion,
		r.PythonVersion,
		r.Config.ImageType,
		r.Config.PackageType,
	)
}
