package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/inkpost/internal/model"
)

func TestFeedHandler_RSS(t *testing.T) {
	first := samplePost("newest-1", true)
	first.Title = "最新の記事 & <特集>"
	later := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	first.PublishedAt = &later
	second := samplePost("older-2", true)
	second.Author = nil

	svc := &mockPostService{
		latestFn: func(ctx context.Context, limit int) ([]*model.PostWithAuthor, error) {
			if limit != 20 {
				t.Errorf("limit = %d, want 20", limit)
			}
			return []*model.PostWithAuthor{&first, &second}, nil
		},
	}
	h := NewFeedHandler(svc, FeedConfig{BaseURL: "https://blog.example.com", Description: "テストブログ"})

	w := httptest.NewRecorder()
	h.RSS(w, httptest.NewRequest(http.MethodGet, "/feed.xml", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/rss+xml") {
		t.Errorf("Content-Type = %q", ct)
	}

	feed, err := gofeed.NewParser().ParseString(w.Body.String())
	if err != nil {
		t.Fatalf("RSSの解析に失敗: %v\n%s", err, w.Body.String())
	}
	if feed.FeedType != "rss" || feed.FeedVersion != "2.0" {
		t.Errorf("feed type = %s %s", feed.FeedType, feed.FeedVersion)
	}
	if feed.Title != "inkpost" || feed.Link != "https://blog.example.com/" || feed.Description != "テストブログ" {
		t.Errorf("channel = %q %q %q", feed.Title, feed.Link, feed.Description)
	}
	if feed.UpdatedParsed == nil || !feed.UpdatedParsed.Equal(later) {
		t.Errorf("lastBuildDate = %v, want %v", feed.UpdatedParsed, later)
	}
	if len(feed.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(feed.Items))
	}

	item := feed.Items[0]
	if item.Title != "最新の記事 & <特集>" {
		t.Errorf("title = %q", item.Title)
	}
	if item.Link != "https://blog.example.com/posts/newest-1" || item.GUID != item.Link {
		t.Errorf("link = %q, guid = %q", item.Link, item.GUID)
	}
	if item.PublishedParsed == nil || !item.PublishedParsed.Equal(later) {
		t.Errorf("pubDate = %v", item.PublishedParsed)
	}
	if item.Description != "本文の抜粋" {
		t.Errorf("description = %q", item.Description)
	}
	if item.DublinCoreExt == nil || len(item.DublinCoreExt.Creator) != 1 || item.DublinCoreExt.Creator[0] != "オーナー" {
		t.Errorf("creator = %+v", item.DublinCoreExt)
	}
	if feed.Items[1].DublinCoreExt != nil && len(feed.Items[1].DublinCoreExt.Creator) != 0 {
		t.Error("プロフィールのない記事に著者が設定されている")
	}
}

func TestFeedHandler_RSS_Empty(t *testing.T) {
	h := NewFeedHandler(&mockPostService{}, FeedConfig{BaseURL: "https://blog.example.com"})

	w := httptest.NewRecorder()
	h.RSS(w, httptest.NewRequest(http.MethodGet, "/feed.xml", nil))

	feed, err := gofeed.NewParser().ParseString(w.Body.String())
	if err != nil {
		t.Fatalf("RSSの解析に失敗: %v", err)
	}
	if len(feed.Items) != 0 {
		t.Errorf("items = %d, want 0", len(feed.Items))
	}
}

func TestFeedHandler_RSS_ServiceError(t *testing.T) {
	svc := &mockPostService{
		latestFn: func(ctx context.Context, limit int) ([]*model.PostWithAuthor, error) {
			return nil, errors.New("connection refused")
		},
	}
	h := NewFeedHandler(svc, FeedConfig{BaseURL: "https://blog.example.com"})

	w := httptest.NewRecorder()
	h.RSS(w, httptest.NewRequest(http.MethodGet, "/feed.xml", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "connection refused") {
		t.Error("内部エラーの詳細が返された")
	}
}
