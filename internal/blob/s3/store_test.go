package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"chemplumb/internal/blob/core"
)

// fakeBucket serves the S3 REST subset the store uses: Head, Get, Put,
// Delete and a two-page ListObjectsV2.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

type fakeObject struct {
	body        []byte
	contentType string
}

func respond(status int, body string, h http.Header) *http.Response {
	if h == nil {
		h = http.Header{}
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body)), Header: h}
}

func (f *fakeBucket) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := ""
	if parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2); len(parts) == 2 {
		key = parts[1]
	}
	q := req.URL.Query()
	if req.Method == http.MethodGet && q.Get("list-type") == "2" {
		return f.list(q.Get("prefix"), q.Get("continuation-token")), nil
	}
	obj, exists := f.objects[key]
	switch req.Method {
	case http.MethodHead, http.MethodGet:
		if !exists {
			return respond(http.StatusNotFound, "", nil), nil
		}
		h := http.Header{
			"Content-Length": {strconv.Itoa(len(obj.body))},
			"Content-Type":   {obj.contentType},
			"Etag":           {`"e-` + key + `"`},
			"Last-Modified":  {time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Format(http.TimeFormat)},
		}
		if req.Method == http.MethodHead {
			return respond(http.StatusOK, "", h), nil
		}
		return respond(http.StatusOK, string(obj.body), h), nil
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
			body = decodeChunked(body)
		}
		f.objects[key] = fakeObject{body: body, contentType: req.Header.Get("Content-Type")}
		return respond(http.StatusOK, "", http.Header{"Etag": {`"e-` + key + `"`}}), nil
	case http.MethodDelete:
		delete(f.objects, key)
		return respond(http.StatusNoContent, "", nil), nil
	}
	return respond(http.StatusNotImplemented, "", nil), nil
}

// list returns the first matching key on the first page and the rest on
// the second, so pagination is always exercised when two keys match.
func (f *fakeBucket) list(prefix, token string) *http.Response {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	page, truncated := keys, false
	switch {
	case token == "" && len(keys) > 1:
		page, truncated = keys[:1], true
	case token != "":
		page = keys[1:]
	}
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult>`)
	fmt.Fprintf(&b, "<IsTruncated>%t</IsTruncated>", truncated)
	if truncated {
		b.WriteString("<NextContinuationToken>page2</NextContinuationToken>")
	}
	for _, k := range page {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(f.objects[k].body))
	}
	b.WriteString("</ListBucketResult>")
	return respond(http.StatusOK, b.String(), http.Header{"Content-Type": {"application/xml"}})
}

// decodeChunked strips aws-chunked framing: <hex size>[;ext]\r\n<data>\r\n ... 0\r\n<trailers>.
func decodeChunked(b []byte) []byte {
	var out []byte
	for {
		line, rest, ok := bytes.Cut(b, []byte("\r\n"))
		if !ok {
			return out
		}
		sizeHex, _, _ := bytes.Cut(line, []byte(";"))
		n, err := strconv.ParseInt(string(sizeHex), 16, 64)
		if err != nil || n == 0 || int64(len(rest)) < n {
			return out
		}
		out = append(out, rest[:n]...)
		b = bytes.TrimPrefix(rest[n:], []byte("\r\n"))
	}
}

func newFakeStore(t *testing.T) (*Store, *fakeBucket) {
	t.Helper()
	bucket := &fakeBucket{objects: map[string]fakeObject{}}
	s, err := New(context.Background(), Config{
		Bucket:          "plumbing",
		Endpoint:        "https://mock.s3.local",
		PathStyle:       true,
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		HTTPClient:      &http.Client{Transport: bucket},
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s, bucket
}

func TestDecodeChunked(t *testing.T) {
	cases := map[string]string{
		"3\r\nabc\r\n0\r\n": "abc",
		"3;sig=x\r\na\r\n\r\n3\r\nbcd\r\n0\r\nx-amz-checksum-crc32:AAAA\r\n\r\n": "a\r\nbcd",
	}
	for in, want := range cases {
		if got := string(decodeChunked([]byte(in))); got != want {
			t.Fatalf("decode %q: expected %q, got %q", in, want, got)
		}
	}
}

func TestStoreFlow(t *testing.T) {
	ctx := context.Background()
	s, bucket := newFakeStore(t)
	if s.Driver() != core.DriverS3 || s.Bucket() != "plumbing" {
		t.Fatalf("unexpected driver %s bucket %s", s.Driver(), s.Bucket())
	}

	info, err := s.Put(ctx, "runs/a.json.gz", bytes.NewReader([]byte("hello")), core.PutOptions{ContentType: "application/gzip"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "runs/a.json.gz" || info.Size != 5 || info.ETag != "e-runs/a.json.gz" {
		t.Fatalf("unexpected put info %+v", info)
	}
	if got := string(bucket.objects["runs/a.json.gz"].body); got != "hello" {
		t.Fatalf("bucket holds %q", got)
	}
	if _, err := s.Put(ctx, "runs/a.json.gz", bytes.NewReader([]byte("again")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	_, rc, err := s.Get(ctx, "runs/a.json.gz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	if err := rc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if string(body) != "hello" {
		t.Fatalf("expected hello, got %q", body)
	}

	if _, err := s.Put(ctx, "runs/b.json.gz", bytes.NewReader([]byte("x")), core.PutOptions{}); err != nil {
		t.Fatalf("put b: %v", err)
	}
	list, err := s.List(ctx, "runs/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Key != "runs/a.json.gz" || list[1].Key != "runs/b.json.gz" {
		t.Fatalf("unexpected list across pages %+v", list)
	}

	if ok, err := s.Delete(ctx, "runs/a.json.gz"); err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	if ok, err := s.Delete(ctx, "runs/a.json.gz"); err != nil || ok {
		t.Fatalf("second delete: ok=%v err=%v", ok, err)
	}
	if _, err := s.Head(ctx, "runs/a.json.gz"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("head after delete: expected ErrNotFound, got %v", err)
	}
	if _, _, err := s.Get(ctx, "runs/a.json.gz"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get after delete: expected ErrNotFound, got %v", err)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected an error without a bucket")
	}
}
