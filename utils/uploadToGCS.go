package utils

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Size guard for re-hosted assets (the engine produces videos up to ~100MB).
const maxRehostBytes = 200 << 20

var rehostHTTPClient = &http.Client{Timeout: 2 * time.Minute}

// getGoogleClient initializes a Google Cloud Storage client.
// Prefer ADC (Cloud Run service account / GOOGLE_APPLICATION_CREDENTIALS).
// If you need to provide explicit JSON (e.g. locally), set GCS_CREDENTIALS_JSON.
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		client, err := storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// UploadBytesToGCS writes data to bucket/objectName and returns the public URL.
// Re-uploading the same object name overwrites; callers rely on that for
// idempotent persistence.
func UploadBytesToGCS(ctx context.Context, bucketName, objectName string, data []byte, contentType string) (string, error) {
	if bucketName == "" {
		return "", errors.New("bucket name is required")
	}

	client, err := getGoogleClient(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	wc := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	wc.ContentType = contentType
	wc.Metadata = map[string]string{
		"x-goog-acl": "public-read",
	}

	if _, err := wc.Write(data); err != nil {
		return "", fmt.Errorf("failed to upload bytes to Google Cloud Storage: %v", err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer: %v", err)
	}
	return BuildObjectAccessURL(bucketName, objectName), nil
}

// UploadDataURIToGCS decodes a "data:<mime>;base64,<payload>" URI and stores it.
func UploadDataURIToGCS(ctx context.Context, bucketName, objectName, dataURI string) (string, error) {
	mimeType, payload, ok := splitDataURI(dataURI)
	if !ok {
		return "", errors.New("invalid data URI")
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", err
	}
	return UploadBytesToGCS(ctx, bucketName, objectName, decoded, mimeType)
}

// UploadFromURLToGCS fetches srcURL and re-hosts the bytes at bucket/objectName.
func UploadFromURLToGCS(ctx context.Context, bucketName, objectName, srcURL, fallbackContentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := rehostHTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("failed to fetch %s: status %d", srcURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRehostBytes+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxRehostBytes {
		return "", fmt.Errorf("asset at %s exceeds %d bytes", srcURL, maxRehostBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = fallbackContentType
	}
	return UploadBytesToGCS(ctx, bucketName, objectName, data, contentType)
}

// ObjectExistsInGCS checks if an object exists in Google Cloud Storage.
func ObjectExistsInGCS(ctx context.Context, bucketName, objectName string) (bool, error) {
	client, err := getGoogleClient(ctx)
	if err != nil {
		return false, err
	}
	defer client.Close()

	_, err = client.Bucket(bucketName).Object(objectName).Attrs(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func splitDataURI(dataURI string) (mimeType, base64Payload string, ok bool) {
	if !strings.HasPrefix(dataURI, "data:") {
		return "", "", false
	}
	rest := strings.TrimPrefix(dataURI, "data:")
	semi := strings.Index(rest, ";base64,")
	if semi < 0 {
		return "", "", false
	}
	mimeType = rest[:semi]
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return mimeType, rest[semi+len(";base64,"):], true
}
