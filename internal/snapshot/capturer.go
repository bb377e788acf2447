// Package snapshot captures landing pages for newly discovered entities.
package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/market-radar/internal/logging"
	"github.com/JakeFAU/market-radar/internal/metrics"
	"github.com/JakeFAU/market-radar/internal/radar"
)

const defaultExcerptRunes = 2000

// Detector decides whether a probe response needs a headless re-fetch.
type Detector interface {
	ShouldPromote(resp radar.FetchResponse) (bool, string)
}

// Config controls capture behavior.
type Config struct {
	ContentType  string
	BlobPrefix   string
	ExcerptRunes int
}

// Capturer runs the probe, optional headless promotion, extraction and blob write.
type Capturer struct {
	probe    radar.Fetcher
	headless radar.Fetcher
	detector Detector
	blobs    radar.BlobStore
	hasher   radar.Hasher
	clock    radar.Clock
	cfg      Config
	logger   *zap.Logger
}

var _ radar.Snapshotter = (*Capturer)(nil)

// New constructs a Capturer. headless and detector may be nil.
func New(
	probe radar.Fetcher,
	headless radar.Fetcher,
	detector Detector,
	blobs radar.BlobStore,
	hasher radar.Hasher,
	clock radar.Clock,
	cfg Config,
	logger *zap.Logger,
) *Capturer {
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if cfg.ExcerptRunes <= 0 {
		cfg.ExcerptRunes = defaultExcerptRunes
	}
	return &Capturer{
		probe:    probe,
		headless: headless,
		detector: detector,
		blobs:    blobs,
		hasher:   hasher,
		clock:    clock,
		cfg:      cfg,
		logger:   logging.OrNop(logger).Named("snapshot"),
	}
}

// Capture fetches url, stores the HTML and returns the extracted metadata.
func (c *Capturer) Capture(ctx context.Context, url string) (radar.Snapshot, error) {
	resp, err := c.probe.Fetch(ctx, url)
	if err != nil {
		metrics.ObserveSnapshot("probe", "error")
		return radar.Snapshot{}, fmt.Errorf("probe fetch: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusBadRequest {
		metrics.ObserveSnapshot("probe", "error")
		return radar.Snapshot{}, fmt.Errorf("probe fetch %s: status %d", url, resp.StatusCode)
	}

	mode := "probe"
	if promoted, ok := c.maybePromote(ctx, url, resp); ok {
		resp = promoted
		mode = "headless"
	}

	snap, err := c.persist(ctx, resp)
	if err != nil {
		metrics.ObserveSnapshot(mode, "error")
		return radar.Snapshot{}, err
	}
	metrics.ObserveSnapshot(mode, "ok")
	c.logger.Debug("snapshot captured",
		zap.String("url", url), zap.String("uri", snap.URI), zap.Bool("headless", snap.UsedHeadless))
	return snap, nil
}

func (c *Capturer) maybePromote(ctx context.Context, url string, resp radar.FetchResponse) (radar.FetchResponse, bool) {
	if c.headless == nil || c.detector == nil {
		return resp, false
	}
	promote, reason := c.detector.ShouldPromote(resp)
	if !promote {
		return resp, false
	}
	headlessResp, err := c.headless.Fetch(ctx, url)
	if err != nil {
		c.logger.Warn("headless promotion failed", zap.String("url", url), zap.String("reason", reason), zap.Error(err))
		return resp, false
	}
	headlessResp.UsedHeadless = true
	return headlessResp, true
}

func (c *Capturer) persist(ctx context.Context, resp radar.FetchResponse) (radar.Snapshot, error) {
	hash := c.hasher.Hash(resp.Body)
	title, description, excerpt, err := Extract(resp.Body, c.cfg.ExcerptRunes)
	if err != nil {
		return radar.Snapshot{}, err
	}
	uri, err := c.blobs.PutObject(ctx, c.blobPath(hash), c.cfg.ContentType, bytes.NewReader(resp.Body))
	if err != nil {
		return radar.Snapshot{}, fmt.Errorf("store snapshot: %w", err)
	}
	return radar.Snapshot{
		URI:          uri,
		Hash:         hash,
		Title:        title,
		Description:  description,
		Excerpt:      excerpt,
		StatusCode:   resp.StatusCode,
		UsedHeadless: resp.UsedHeadless,
	}, nil
}

// blobPath lays snapshots out by capture date: {prefix}/{yyyy}/{mm}/{dd}/{hash}.html.
func (c *Capturer) blobPath(hash string) string {
	day := c.clock.Now().UTC().Format("2006/01/02")
	prefix := strings.Trim(c.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", day, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, day, hash)
}

// Extract pulls the title, meta description and a whitespace-collapsed text
// excerpt of at most maxRunes runes from an HTML document.
func Extract(body []byte, maxRunes int) (title, description, excerpt string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", "", fmt.Errorf("parse html: %w", err)
	}
	title = strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title, _ = doc.Find(`meta[property="og:title"]`).Attr("content")
	}
	description, _ = doc.Find(`meta[name="description"]`).Attr("content")
	if description == "" {
		description, _ = doc.Find(`meta[property="og:description"]`).Attr("content")
	}
	doc.Find("script, style, noscript, template").Remove()
	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	return strings.TrimSpace(title), strings.TrimSpace(description), truncateRunes(text, maxRunes), nil
}

func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
