// Package mirror keeps local copies of what a verification session saw, for
// debugging the provider's pages after the fact. Nothing here can change
// the outcome of a session, every failure is only reported.
package mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"passnice/internal/components/assert"
	"passnice/internal/components/telemetry"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

const (
	report_mirror_save_page  = "mirror.save-page"
	report_mirror_save_asset = "mirror.save-asset"
)

const (
	ASSET_CSS = "css"
	ASSET_JS  = "js"
)

// AssetMirror saves the first html page it sees per host under `html/`, then
// downloads the stylesheets and scripts that page references into `css/` and
// `js/`, keeping their url paths. Existing files are never overwritten.
type AssetMirror struct {
	dir  string
	http *resty.Client
	tel  telemetry.API

	lock sync.Mutex
}

func NewAssetMirror(dir string, tel telemetry.API) (*AssetMirror, error) {
	assert.NotNil(tel)
	assert.NotEmptyStr(dir)

	err := os.MkdirAll(dir, 0777)
	if err != nil {
		return nil, err
	}

	httpClient := resty.New()
	httpClient.SetTimeout(15 * time.Second)

	return &AssetMirror{
		dir:  dir,
		http: httpClient,
		tel:  telemetry.NewScopedAPI("mirror", tel),
	}, nil
}

func (m *AssetMirror) Observe(ctx context.Context, res *resty.Response) {
	contentType := strings.ToLower(res.Header().Get("content-type"))
	if !strings.Contains(contentType, "html") {
		return
	}
	pageUrl, err := url.Parse(res.Request.URL)
	if err != nil {
		m.tel.ReportWarning(report_mirror_save_page, fmt.Errorf("parse url: %w", err))
		return
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	pagePath := filepath.Join(m.dir, "html", strings.ReplaceAll(pageUrl.Host, ".", "_")+".html")
	saved, err := writeOnce(pagePath, res.Body())
	if err != nil {
		m.tel.ReportWarning(report_mirror_save_page, err)
		return
	}
	if !saved {
		return
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		m.tel.ReportWarning(report_mirror_save_page, fmt.Errorf("parse page: %w", err))
		return
	}
	doc.Find(`link[rel="stylesheet"][href]`).Each(func(_ int, s *goquery.Selection) {
		m.saveAsset(ctx, pageUrl, s.AttrOr("href", ""), ASSET_CSS)
	})
	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		m.saveAsset(ctx, pageUrl, s.AttrOr("src", ""), ASSET_JS)
	})
}

func (m *AssetMirror) saveAsset(ctx context.Context, base *url.URL, ref, kind string) {
	if ref == "" {
		return
	}
	assetUrl, err := base.Parse(ref)
	if err != nil {
		m.tel.ReportWarning(report_mirror_save_asset, fmt.Errorf("resolve %q: %w", ref, err))
		return
	}
	target, ok := m.assetPath(assetUrl, kind)
	if !ok {
		m.tel.ReportWarning(report_mirror_save_asset, fmt.Errorf("refusing to save %s outside of the mirror", assetUrl))
		return
	}
	if exists(target) {
		return
	}

	res, err := m.http.R().
		SetContext(ctx).
		Get(assetUrl.String())
	if err != nil {
		m.tel.ReportWarning(report_mirror_save_asset, fmt.Errorf("fetch %s: %w", assetUrl, err))
		return
	}
	if res.StatusCode() != 200 {
		m.tel.ReportDebug("skipped asset", assetUrl.String(), res.Status())
		return
	}
	_, err = writeOnce(target, res.Body())
	if err != nil {
		m.tel.ReportWarning(report_mirror_save_asset, err)
	}
}

// assetPath maps an asset url onto `<dir>/<kind>/<url path>`.
func (m *AssetMirror) assetPath(assetUrl *url.URL, kind string) (string, bool) {
	cleaned := strings.TrimPrefix(path.Clean("/"+assetUrl.Path), "/")
	if cleaned == "" {
		return "", false
	}
	root := filepath.Join(m.dir, kind)
	target := filepath.Join(root, filepath.FromSlash(cleaned))
	rel, err := filepath.Rel(root, target)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return target, true
}

func exists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}

// writeOnce creates filename with contents unless it already exists, saved is
// false when the file was already there.
func writeOnce(filename string, contents []byte) (saved bool, err error) {
	err = os.MkdirAll(filepath.Dir(filename), 0777)
	if err != nil {
		return false, err
	}
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()

	_, err = f.Write(contents)
	if err != nil {
		return false, err
	}
	return true, nil
}
