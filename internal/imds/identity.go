package imds

import (
	"context"
	"encoding/json"
	"log/slog"
	"unicode"
)

// Identity is the (instance id, region) pair naming the instance the
// process runs on. An empty field means that path of resolution failed;
// downstream calls that need the field skip themselves.
type Identity struct {
	InstanceID string
	Region     string
}

// Complete reports whether both fields resolved.
func (id Identity) Complete() bool {
	return id.InstanceID != "" && id.Region != ""
}

// validRegions is a deliberate allow-list: telemetry only reports into
// regions where the receiving bucket exists, so unknown region strings
// are rejected even when the metadata call itself succeeded.
var validRegions = map[string]bool{
	"ap-northeast-1": true,
	"ap-northeast-2": true,
	"ap-southeast-1": true,
	"ap-southeast-2": true,
	"ap-south-1":     true,
	"ca-central-1":   true,
	"eu-central-1":   true,
	"eu-north-1":     true,
	"eu-west-1":      true,
	"eu-west-2":      true,
	"eu-west-3":      true,
	"sa-east-1":      true,
	"us-east-1":      true,
	"us-east-2":      true,
	"us-west-1":      true,
	"us-west-2":      true,
}

// Resolve obtains both identity fields. Each field runs the full
// v1-then-v2 state machine independently; a token is never reused
// across fields or invocations.
func (c *Client) Resolve(ctx context.Context) Identity {
	return Identity{
		InstanceID: c.ResolveInstanceID(ctx),
		Region:     c.ResolveRegion(ctx),
	}
}

// ResolveInstanceID fetches and validates the instance id, or returns "".
func (c *Client) ResolveInstanceID(ctx context.Context) string {
	body, ok := c.fetchWithFallback(ctx, instanceIDPath)
	if !ok {
		return ""
	}
	id, ok := ParseInstanceID(body)
	if !ok {
		slog.Debug("instance id rejected", "body", body)
		return ""
	}
	return id
}

// ResolveRegion fetches the identity document and validates its region
// against the allow-list, or returns "".
func (c *Client) ResolveRegion(ctx context.Context) string {
	body, ok := c.fetchWithFallback(ctx, identityDocPath)
	if !ok {
		return ""
	}
	region, ok := parseRegionDocument(body)
	if !ok {
		slog.Debug("region rejected", "body", body)
		return ""
	}
	return region
}

// fetchWithFallback runs the per-field protocol state machine: one plain
// IMDSv1 GET, and only when that is refused, one token PUT followed by
// one authenticated GET. Validation failures after a success-band v1
// response do not trigger the v2 path.
func (c *Client) fetchWithFallback(ctx context.Context, path string) (string, bool) {
	if resp := c.Get(ctx, path, nil); resp != nil {
		if !resp.OK() {
			return c.fetchV2(ctx, path)
		}
		return resp.Body, true
	}
	return c.fetchV2(ctx, path)
}

func (c *Client) fetchV2(ctx context.Context, path string) (string, bool) {
	tok := c.Put(ctx, tokenPath, map[string]string{tokenTTLHeader: tokenTTLSeconds})
	if !tok.OK() || tok.Body == "" {
		return "", false
	}

	resp := c.Get(ctx, path, map[string]string{tokenHeader: tok.Body})
	if !resp.OK() {
		return "", false
	}
	return resp.Body, true
}

// ParseInstanceID validates that s starts with "i-" followed by exactly
// 17 non-whitespace characters and returns that prefix. Trailing text
// after the id is ignored.
func ParseInstanceID(s string) (string, bool) {
	const idRunes = 2 + 17
	runes := []rune(s)
	if len(runes) < idRunes || runes[0] != 'i' || runes[1] != '-' {
		return "", false
	}
	for _, r := range runes[2:idRunes] {
		if unicode.IsSpace(r) {
			return "", false
		}
	}
	return string(runes[:idRunes]), true
}

// parseRegionDocument extracts the region field from an instance
// identity document and checks it against the allow-list.
func parseRegionDocument(doc string) (string, bool) {
	var parsed struct {
		Region string `json:"region"`
	}
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		return "", false
	}
	if !validRegions[parsed.Region] {
		return "", false
	}
	return parsed.Region, true
}
