package mirror

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"passnice/internal/components/assert"
	"passnice/internal/components/chrono"
	"passnice/internal/components/telemetry"

	"github.com/go-resty/resty/v2"
)

const report_mirror_dump = "mirror.dump"

// DumpObserver writes a plain text transcript of every request and response.
// Files are named `<run>-<n>-<method>.txt` so several runs can share a directory.
type DumpObserver struct {
	dir     string
	run     string
	counter *uint64
	tel     telemetry.API
}

func NewDumpObserver(dir string, time chrono.API, tel telemetry.API) (DumpObserver, error) {
	assert.NotNil(time)
	assert.NotNil(tel)

	err := os.MkdirAll(dir, 0777)
	if err != nil {
		return DumpObserver{}, err
	}
	var counter uint64
	return DumpObserver{
		dir:     dir,
		run:     time.Now().Format("20060102-150405"),
		counter: &counter,
		tel:     telemetry.NewScopedAPI("mirror", tel),
	}, nil
}

func (o DumpObserver) Observe(_ context.Context, res *resty.Response) {
	n := atomic.AddUint64(o.counter, 1)
	name := fmt.Sprintf("%s-%03d-%s.txt", o.run, n, strings.ToLower(res.Request.Method))
	err := os.WriteFile(filepath.Join(o.dir, name), []byte(transcript(res)), 0600)
	if err != nil {
		o.tel.ReportWarning(report_mirror_dump, name, err)
	}
}

func writeHeaders(out *strings.Builder, headers http.Header) {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range headers[k] {
			fmt.Fprintf(out, "%s: %s\n", k, v)
		}
	}
}

// requestBody returns the form or payload that was sent, empty for bodiless
// requests. GetBody may be missing or may hand back a nil reader.
func requestBody(req *http.Request) string {
	if req == nil || req.GetBody == nil {
		return ""
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Sprintf("<request body unavailable: %v>", err)
	}
	if body == nil {
		return ""
	}
	defer body.Close()
	contents, err := io.ReadAll(body)
	if err != nil {
		return fmt.Sprintf("<request body unreadable: %v>", err)
	}
	return string(contents)
}

func transcript(res *resty.Response) string {
	var out strings.Builder

	out.WriteString("---- REQUEST ----\n\n")
	fmt.Fprintf(&out, "%s %s\n\n", res.Request.Method, res.Request.URL)
	if raw := res.Request.RawRequest; raw != nil {
		writeHeaders(&out, raw.Header)
		out.WriteString("\n")
		if body := requestBody(raw); body != "" {
			out.WriteString(body)
			out.WriteString("\n\n")
		}
	}

	location := res.Request.URL
	if res.RawResponse != nil {
		if redirected, err := res.RawResponse.Location(); err == nil {
			location = redirected.String()
		}
	}
	out.WriteString("---- RESPONSE ----\n\n")
	fmt.Fprintf(&out, "%s %s\n\n", strconv.Itoa(res.StatusCode()), location)
	writeHeaders(&out, res.Header())
	out.WriteString("\n")
	out.Write(res.Body())
	return out.String()
}
