package s3

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewMockForTests returns a Driver backed by an in-memory HTTP round tripper
// that emulates the small subset of the S3 API the driver uses (Head, Get,
// Put, Delete). No network access happens.
func NewMockForTests(bucket string) *Driver {
	rt := &mockRoundTripper{objects: map[string][]byte{}}
	cfg := aws.Config{
		Region:      "us-east-1",
		Credentials: credentials.NewStaticCredentialsProvider("test", "test", ""),
		HTTPClient:  &http.Client{Transport: rt},
	}
	client := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("http://mock.s3.local")
	})
	return &Driver{client: client, bucket: bucket}
}

type mockRoundTripper struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Path style: /<bucket>/<key...>
	key := strings.TrimPrefix(req.URL.Path, "/")
	if i := strings.IndexByte(key, '/'); i >= 0 {
		key = key[i+1:]
	}

	switch req.Method {
	case http.MethodHead:
		body, ok := m.objects[key]
		if !ok {
			return xmlError(req, http.StatusNotFound, "NotFound"), nil
		}
		resp := emptyResponse(req, http.StatusOK)
		resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
		return resp, nil
	case http.MethodPut:
		payload, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
			payload = decodeChunked(payload)
		}
		m.objects[key] = payload
		return emptyResponse(req, http.StatusOK), nil
	case http.MethodGet:
		body, ok := m.objects[key]
		if !ok {
			return xmlError(req, http.StatusNotFound, "NoSuchKey"), nil
		}
		resp := emptyResponse(req, http.StatusOK)
		resp.Body = io.NopCloser(bytes.NewReader(body))
		resp.ContentLength = int64(len(body))
		resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
		return resp, nil
	case http.MethodDelete:
		delete(m.objects, key)
		return emptyResponse(req, http.StatusNoContent), nil
	default:
		return xmlError(req, http.StatusNotImplemented, "NotImplemented"), nil
	}
}

func emptyResponse(req *http.Request, status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewReader(nil)),
		Request:    req,
	}
}

func xmlError(req *http.Request, status int, code string) *http.Response {
	body := `<?xml version="1.0" encoding="UTF-8"?><Error><Code>` + code + `</Code><Message>` + code + `</Message></Error>`
	resp := emptyResponse(req, status)
	resp.Body = io.NopCloser(strings.NewReader(body))
	resp.Header.Set("Content-Type", "application/xml")
	return resp
}

// decodeChunked strips the aws-chunked framing the SDK applies to streamed
// uploads: hex-size[;chunk-signature=...]\r\n payload \r\n, terminated by a
// zero-size chunk.
func decodeChunked(payload []byte) []byte {
	var out bytes.Buffer
	rest := payload
	for len(rest) > 0 {
		nl := bytes.Index(rest, []byte("\r\n"))
		if nl < 0 {
			break
		}
		header := string(rest[:nl])
		if i := strings.IndexByte(header, ';'); i >= 0 {
			header = header[:i]
		}
		size := parseHex(header)
		rest = rest[nl+2:]
		if size == 0 {
			break
		}
		if size > len(rest) {
			size = len(rest)
		}
		out.Write(rest[:size])
		rest = rest[size:]
		rest = bytes.TrimPrefix(rest, []byte("\r\n"))
	}
	if out.Len() == 0 {
		return payload
	}
	return out.Bytes()
}

func parseHex(s string) int {
	n := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			n = n*16 + int(r-'0')
		case r >= 'a' && r <= 'f':
			n = n*16 + int(r-'a'+10)
		case r >= 'A' && r <= 'F':
			n = n*16 + int(r-'A'+10)
		default:
			return n
		}
	}
	return n
}
