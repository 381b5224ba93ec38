package storage

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const defaultObjectStorageRequestTimeout = 30 * time.Second

// ObjectStorageConfig describes the S3-compatible endpoint holding raw
// uploads and transcoded output.
type ObjectStorageConfig struct {
	Endpoint       string
	Region         string
	AccessKey      string
	SecretKey      string
	UseSSL         bool
	RequestTimeout time.Duration
}

// ObjectClient talks to an S3-compatible store over plain HTTP with SigV4
// request signing. Bucket names are passed per call because the worker reads
// raw uploads from one bucket and writes transcoded output to another.
type ObjectClient struct {
	cfg        ObjectStorageConfig
	endpoint   *url.URL
	httpClient *http.Client
}

// NewObjectClient validates the endpoint and builds a signing client.
func NewObjectClient(cfg ObjectStorageConfig) (*ObjectClient, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("object storage endpoint required")
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse object storage endpoint: %w", err)
		}
		endpoint = parsed.Host
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	baseURL := &url.URL{Scheme: scheme, Host: endpoint}
	if baseURL.Host == "" {
		return nil, fmt.Errorf("object storage endpoint %q has no host", cfg.Endpoint)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultObjectStorageRequestTimeout
	}
	return &ObjectClient{
		cfg:        cfg,
		endpoint:   baseURL,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
	}, nil
}

// EnsureBucket creates the bucket when it does not already exist.
func (c *ObjectClient) EnsureBucket(ctx context.Context, bucket string) error {
	target := c.objectURL(bucket, "")
	request, err := http.NewRequestWithContext(ctx, http.MethodPut, target.String(), nil)
	if err != nil {
		return fmt.Errorf("create bucket request: %w", err)
	}
	c.signRequest(request, emptyPayloadHash)
	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("ensure bucket %s: %w", bucket, err)
	}
	defer func() {
		_ = response.Body.Close()
	}()
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return nil
	}
	// MinIO answers 409 when the bucket already exists and is owned by us.
	if response.StatusCode == http.StatusConflict {
		return nil
	}
	return fmt.Errorf("ensure bucket %s: unexpected status %d", bucket, response.StatusCode)
}

// Upload writes body to bucket/key. The body is buffered in memory to compute
// the payload hash SigV4 requires; the worker only uploads HLS segments and
// thumbnails, which stay small.
func (c *ObjectClient) Upload(ctx context.Context, bucket, key, contentType string, body io.Reader) error {
	payload, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read upload payload for %s: %w", key, err)
	}
	target := c.objectURL(bucket, key)
	request, err := http.NewRequestWithContext(ctx, http.MethodPut, target.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	c.signRequest(request, hashSHA256Hex(payload))
	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("upload object %s: %w", key, err)
	}
	defer func() {
		_ = response.Body.Close()
	}()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("upload object %s: unexpected status %d", key, response.StatusCode)
	}
	return nil
}

// Download streams bucket/key into dst.
func (c *ObjectClient) Download(ctx context.Context, bucket, key string, dst io.Writer) error {
	target := c.objectURL(bucket, key)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("create download request: %w", err)
	}
	c.signRequest(request, emptyPayloadHash)
	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("download object %s: %w", key, err)
	}
	defer func() {
		_ = response.Body.Close()
	}()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("download object %s: unexpected status %d", key, response.StatusCode)
	}
	if _, err := io.Copy(dst, response.Body); err != nil {
		return fmt.Errorf("copy object %s: %w", key, err)
	}
	return nil
}

// Delete removes bucket/key. Deleting a missing object is not an error.
func (c *ObjectClient) Delete(ctx context.Context, bucket, key string) error {
	target := c.objectURL(bucket, key)
	request, err := http.NewRequestWithContext(ctx, http.MethodDelete, target.String(), nil)
	if err != nil {
		return fmt.Errorf("create delete request: %w", err)
	}
	c.signRequest(request, emptyPayloadHash)
	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	defer func() {
		_ = response.Body.Close()
	}()
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return nil
	}
	if response.StatusCode == http.StatusNotFound {
		return nil
	}
	return fmt.Errorf("delete object %s: unexpected status %d", key, response.StatusCode)
}

func (c *ObjectClient) objectURL(bucket, key string) *url.URL {
	path := "/" + strings.TrimLeft(strings.TrimSpace(bucket), "/")
	trimmedKey := strings.TrimLeft(strings.TrimSpace(key), "/")
	if trimmedKey != "" {
		path += "/" + trimmedKey
	}
	u := *c.endpoint
	u.Path = path
	return &u
}

func (c *ObjectClient) signRequest(req *http.Request, payloadHash string) {
	req.Host = req.URL.Host
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("x-amz-content-sha256", payloadHash)
	accessKey := strings.TrimSpace(c.cfg.AccessKey)
	secretKey := strings.TrimSpace(c.cfg.SecretKey)
	if accessKey == "" || secretKey == "" {
		return
	}
	region := strings.TrimSpace(c.cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	now := time.Now().UTC()
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")
	req.Header.Set("x-amz-date", amzDate)
	canonicalHeaders, signedHeaders := canonicalizeHeaders(req)
	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI(req.URL),
		canonicalQuery(req.URL),
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")
	hash := sha256.Sum256([]byte(canonicalRequest))
	scope := strings.Join([]string{dateStamp, region, "s3", "aws4_request"}, "/")
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		scope,
		hex.EncodeToString(hash[:]),
	}, "\n")
	signingKey := deriveSigningKey(secretKey, dateStamp, region)
	signature := hmacSHA256Hex(signingKey, stringToSign)
	authorization := fmt.Sprintf(
		"AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		accessKey,
		scope,
		signedHeaders,
		signature,
	)
	req.Header.Set("Authorization", authorization)
}

func canonicalizeHeaders(req *http.Request) (string, string) {
	headerMap := make(map[string][]string)
	for key, values := range req.Header {
		lower := strings.ToLower(key)
		if lower == "authorization" {
			continue
		}
		cleaned := make([]string, 0, len(values))
		for _, v := range values {
			cleaned = append(cleaned, strings.TrimSpace(v))
		}
		headerMap[lower] = cleaned
	}
	if _, ok := headerMap["host"]; !ok && req.Host != "" {
		headerMap["host"] = []string{req.Host}
	}
	keys := make([]string, 0, len(headerMap))
	for key := range headerMap {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var builder strings.Builder
	var signed []string
	for _, key := range keys {
		builder.WriteString(key)
		builder.WriteByte(':')
		builder.WriteString(strings.Join(headerMap[key], ","))
		builder.WriteByte('\n')
		signed = append(signed, key)
	}
	return builder.String(), strings.Join(signed, ";")
}

func canonicalURI(u *url.URL) string {
	if u == nil {
		return "/"
	}
	path := u.EscapedPath()
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}

func canonicalQuery(u *url.URL) string {
	if u == nil {
		return ""
	}
	values, err := url.ParseQuery(u.RawQuery)
	if err != nil || len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var builder strings.Builder
	for idx, key := range keys {
		if idx > 0 {
			builder.WriteByte('&')
		}
		sort.Strings(values[key])
		for vIdx, value := range values[key] {
			if vIdx > 0 {
				builder.WriteByte('&')
			}
			builder.WriteString(url.QueryEscape(key))
			builder.WriteByte('=')
			builder.WriteString(url.QueryEscape(value))
		}
	}
	return builder.String()
}

func deriveSigningKey(secret, dateStamp, region string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), []byte(dateStamp))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte("s3"))
	return hmacSHA256(kService, []byte("aws4_request"))
}

func hmacSHA256(key []byte, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func hmacSHA256Hex(key []byte, data string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

var emptyPayloadHash = hashSHA256Hex(nil)

func hashSHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
