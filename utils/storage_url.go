package utils

import (
	"net/url"
	"os"
	"strings"
)

// BuildObjectAccessURL returns the stable public URL for an object.
// STORAGE_ACCESS_BASE_URL overrides the default Google Cloud Storage form
// (useful behind a CDN); "{bucket}"/"{objectKey}" placeholders are supported.
func BuildObjectAccessURL(bucket, objectKey string) string {
	base := strings.TrimSpace(os.Getenv("STORAGE_ACCESS_BASE_URL"))
	if base != "" {
		if strings.Contains(base, "{objectKey}") {
			out := strings.ReplaceAll(base, "{bucket}", bucket)
			return strings.ReplaceAll(out, "{objectKey}", objectKey)
		}
		return strings.TrimRight(base, "/") + "/" + bucket + "/" + objectKey
	}

	gcsHost := strings.TrimSpace(os.Getenv("GCS_URL"))
	if gcsHost == "" {
		gcsHost = "storage.googleapis.com"
	}
	return "https://" + gcsHost + "/" + bucket + "/" + objectKey
}

// ExtractObjectKeyFromURL recovers "bucket" and "objectKey" from a public URL
// previously produced by BuildObjectAccessURL. Returns empty strings when the
// URL does not point into our storage.
func ExtractObjectKeyFromURL(rawURL string) (bucket string, objectKey string) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", ""
	}

	if strings.HasPrefix(rawURL, "gs://") {
		rest := strings.TrimPrefix(rawURL, "gs://")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) == 2 {
			return parts[0], parts[1]
		}
		return "", ""
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", ""
	}

	// Common Google Cloud Storage URL formats:
	// - https://storage.googleapis.com/<bucket>/<objectKey>
	// - https://<bucket>.storage.googleapis.com/<objectKey>
	// - https://storage.cloud.google.com/<bucket>/<objectKey>
	host := strings.ToLower(strings.TrimSpace(parsed.Host))
	p := strings.TrimPrefix(parsed.Path, "/")
	if host == "storage.googleapis.com" || host == "storage.cloud.google.com" {
		parts := strings.SplitN(p, "/", 2)
		if len(parts) == 2 && parts[1] != "" {
			return parts[0], parts[1]
		}
		return "", ""
	}
	if strings.HasSuffix(host, ".storage.googleapis.com") {
		if p != "" {
			return strings.TrimSuffix(host, ".storage.googleapis.com"), p
		}
		return "", ""
	}

	base := strings.TrimSpace(os.Getenv("STORAGE_ACCESS_BASE_URL"))
	if base != "" && !strings.Contains(base, "{objectKey}") {
		prefix := strings.TrimRight(base, "/") + "/"
		if strings.HasPrefix(rawURL, prefix) {
			rest := strings.TrimPrefix(rawURL, prefix)
			parts := strings.SplitN(rest, "/", 2)
			if len(parts) == 2 && parts[1] != "" {
				return parts[0], parts[1]
			}
		}
	}

	return "", ""
}
