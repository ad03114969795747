package s3

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewMockForTests returns a Store backed by an in-process fake S3 endpoint.
// Only Head/Get/Put/Delete/ListObjectsV2 are served. List responses are
// paginated one object per page so continuation handling gets exercised.
func NewMockForTests(prefix string) *Store {
	rt := &mockRoundTripper{objects: make(map[string]mockObject)}
	cfg, _ := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
	})
	return newStore(client, "mock-bucket", prefix)
}

type mockObject struct {
	body        []byte
	contentType string
	metadata    http.Header
}

type mockRoundTripper struct {
	mu      sync.Mutex
	objects map[string]mockObject
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) { //nolint:cyclop
	m.mu.Lock()
	defer m.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return m.list(req.URL.Query().Get("prefix"), req.URL.Query().Get("continuation-token")), nil
	}
	switch req.Method {
	case http.MethodHead:
		if obj, ok := m.objects[key]; ok {
			return respond(http.StatusOK, nil, obj.headers()), nil
		}
		return respond(http.StatusNotFound, nil, http.Header{}), nil
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if dec, ok := decodeChunked(body); ok {
			body = dec
		}
		md := http.Header{}
		for h, v := range req.Header {
			if strings.HasPrefix(strings.ToLower(h), "x-amz-meta-") {
				md[h] = v
			}
		}
		m.objects[key] = mockObject{body: body, contentType: req.Header.Get("Content-Type"), metadata: md}
		return respond(http.StatusOK, nil, etagHeader(body)), nil
	case http.MethodGet:
		if obj, ok := m.objects[key]; ok {
			return respond(http.StatusOK, obj.body, obj.headers()), nil
		}
		body := []byte("<?xml version=\"1.0\"?><Error><Code>NoSuchKey</Code><Message>not found</Message></Error>")
		return respond(http.StatusNotFound, body, http.Header{"Content-Type": {"application/xml"}}), nil
	case http.MethodDelete:
		delete(m.objects, key)
		return respond(http.StatusNoContent, nil, http.Header{}), nil
	}
	return respond(http.StatusNotImplemented, nil, http.Header{}), nil
}

func (m *mockRoundTripper) list(prefix, token string) *http.Response {
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) && k > token {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\"?><ListBucketResult>")
	if len(keys) > 1 {
		fmt.Fprintf(&b, "<IsTruncated>true</IsTruncated><NextContinuationToken>%s</NextContinuationToken>", keys[0])
		keys = keys[:1]
	} else {
		b.WriteString("<IsTruncated>false</IsTruncated>")
	}
	for _, k := range keys {
		obj := m.objects[k]
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><ETag>%s</ETag><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>",
			k, len(obj.body), quoteETag(obj.body))
	}
	b.WriteString("</ListBucketResult>")
	return respond(http.StatusOK, []byte(b.String()), http.Header{"Content-Type": {"application/xml"}})
}

func (o mockObject) headers() http.Header {
	h := etagHeader(o.body)
	h.Set("Content-Length", strconv.Itoa(len(o.body)))
	h.Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
	if o.contentType != "" {
		h.Set("Content-Type", o.contentType)
	}
	for k, v := range o.metadata {
		h[k] = v
	}
	return h
}

func respond(status int, body []byte, h http.Header) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(body)), Header: h, ContentLength: int64(len(body))}
}

// etagHeader goes through Header.Set so the key is canonical ("Etag") and
// visible to Header.Get in the SDK's deserializers.
func etagHeader(body []byte) http.Header {
	h := http.Header{}
	h.Set("ETag", quoteETag(body))
	return h
}

func quoteETag(body []byte) string {
	sum := md5.Sum(body)
	return "\"" + hex.EncodeToString(sum[:]) + "\""
}

// decodeChunked unwraps a single-chunk aws-chunked payload:
// <hex>\r\n<body>\r\n0\r\n[trailers]
func decodeChunked(b []byte) ([]byte, bool) {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 {
		return nil, false
	}
	n, err := strconv.ParseInt(parts[0], 16, 64)
	if err != nil || n <= 0 || int64(len(parts[1])) != n || parts[2] != "0" {
		return nil, false
	}
	return []byte(parts[1]), true
}
