package handler

import (
	"context"
	"encoding/xml"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/inkpost/internal/model"
)

// feedItemLimit はRSSに含める最新記事の件数。
const feedItemLimit = 20

const dublinCoreNamespace = "http://purl.org/dc/elements/1.1/"

// LatestPostLister はRSS生成に必要な最新記事の取得インターフェース。
type LatestPostLister interface {
	Latest(ctx context.Context, limit int) ([]*model.PostWithAuthor, error)
}

// FeedConfig はRSSチャンネルの設定。
type FeedConfig struct {
	BaseURL     string
	Title       string
	Description string
}

// FeedHandler は公開記事のRSS 2.0フィードを返すHTTPハンドラー。
type FeedHandler struct {
	service LatestPostLister
	config  FeedConfig
}

// NewFeedHandler はFeedHandlerを生成する。
func NewFeedHandler(service LatestPostLister, config FeedConfig) *FeedHandler {
	if config.Title == "" {
		config.Title = "inkpost"
	}
	return &FeedHandler{service: service, config: config}
}

type rssDocument struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	DCNS    string     `xml:"xmlns:dc,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string    `xml:"title"`
	Link          string    `xml:"link"`
	Description   string    `xml:"description"`
	Language      string    `xml:"language"`
	LastBuildDate string    `xml:"lastBuildDate,omitempty"`
	Items         []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string  `xml:"title"`
	Link        string  `xml:"link"`
	GUID        rssGUID `xml:"guid"`
	PubDate     string  `xml:"pubDate,omitempty"`
	Description string  `xml:"description"`
	Creator     string  `xml:"dc:creator,omitempty"`
}

type rssGUID struct {
	IsPermaLink bool   `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

// RSS は最新の公開記事をRSS 2.0形式で返す。
// GET /feed.xml
func (h *FeedHandler) RSS(w http.ResponseWriter, r *http.Request) {
	posts, err := h.service.Latest(r.Context(), feedItemLimit)
	if err != nil {
		status, _ := classifyError(err)
		slog.Error("failed to build feed", slog.String("error", err.Error()))
		http.Error(w, http.StatusText(status), status)
		return
	}

	doc := rssDocument{
		Version: "2.0",
		DCNS:    dublinCoreNamespace,
		Channel: rssChannel{
			Title:       h.config.Title,
			Link:        h.config.BaseURL + "/",
			Description: h.config.Description,
			Language:    "ja",
			Items:       make([]rssItem, 0, len(posts)),
		},
	}

	var latest time.Time
	for _, p := range posts {
		link := h.config.BaseURL + "/posts/" + p.Slug
		item := rssItem{
			Title:       p.Title,
			Link:        link,
			GUID:        rssGUID{IsPermaLink: true, Value: link},
			Description: p.Excerpt,
			Creator:     p.AuthorName(),
		}
		if p.PublishedAt != nil {
			item.PubDate = p.PublishedAt.UTC().Format(time.RFC1123Z)
			if p.PublishedAt.After(latest) {
				latest = *p.PublishedAt
			}
		}
		doc.Channel.Items = append(doc.Channel.Items, item)
	}
	if !latest.IsZero() {
		doc.Channel.LastBuildDate = latest.UTC().Format(time.RFC1123Z)
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.Write([]byte(xml.Header))
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		slog.Error("failed to encode feed", slog.String("error", err.Error()))
	}
}
