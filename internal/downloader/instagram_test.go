package downloader

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/obervinov/instabot-downloader/internal/config"
	"github.com/obervinov/instabot-downloader/internal/services"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(config.InstagramConfig{
		BaseURL:           srv.URL,
		UserAgent:         "test-agent",
		RequestsPerSecond: 1000, // no throttling in tests
		Timeout:           5 * time.Second,
	}, t.TempDir(), zerolog.Nop())
}

func TestFetchPost_DownloadsImage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/media/1.jpg", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "jpegbytes")
	})
	var mediaURL string
	mux.HandleFunc("/p/vahj5AN8aek/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("__a") != "1" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `{"items":[{"user":{"username":"johndoe"},"image_versions2":{"candidates":[{"url":%q}]}}]}`, mediaURL)
	})
	c := newTestClient(t, mux)
	mediaURL = c.baseURL + "/media/1.jpg"

	content, err := c.FetchPost(context.Background(), "vahj5AN8aek")
	if err != nil {
		t.Fatalf("FetchPost: %v", err)
	}
	if content.Owner != "johndoe" || content.Files != 1 {
		t.Fatalf("unexpected content: %+v", content)
	}
	data, err := os.ReadFile(filepath.Join(content.Dir, "1.jpg"))
	if err != nil {
		t.Fatalf("read staged file: %v", err)
	}
	if string(data) != "jpegbytes" {
		t.Fatalf("unexpected file content: %q", data)
	}
	// The staging layout is <tempDir>/<owner>/<postID>.
	if !strings.HasSuffix(content.Dir, filepath.Join("johndoe", "vahj5AN8aek")) {
		t.Fatalf("unexpected staging dir: %q", content.Dir)
	}
}

func TestFetchPost_Carousel(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/media/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "bytes")
	})
	var base string
	mux.HandleFunc("/p/vahj5AN8aek/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"items":[{"user":{"username":"johndoe"},"carousel_media":[
			{"image_versions2":{"candidates":[{"url":"%s/media/a.jpg"}]}},
			{"video_versions":[{"url":"%s/media/b.mp4"}]}
		]}]}`, base, base)
	})
	c := newTestClient(t, mux)
	base = c.baseURL

	content, err := c.FetchPost(context.Background(), "vahj5AN8aek")
	if err != nil {
		t.Fatalf("FetchPost: %v", err)
	}
	if content.Files != 2 {
		t.Fatalf("expected 2 files, got %d", content.Files)
	}
	if _, err := os.Stat(filepath.Join(content.Dir, "1.jpg")); err != nil {
		t.Fatalf("image not staged: %v", err)
	}
	if _, err := os.Stat(filepath.Join(content.Dir, "2.mp4")); err != nil {
		t.Fatalf("video not staged: %v", err)
	}
}

func TestFetchPost_ErrorClassification(t *testing.T) {
	cases := []struct {
		code      int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusNotFound, false},
		{http.StatusUnauthorized, false},
		{http.StatusForbidden, false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("status_%d", tc.code), func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.code)
			}))
			_, err := c.FetchPost(context.Background(), "vahj5AN8aek")
			if err == nil {
				t.Fatalf("expected error")
			}
			if services.IsTransient(err) != tc.transient {
				t.Fatalf("status %d: transient=%v, want %v", tc.code, services.IsTransient(err), tc.transient)
			}
		})
	}
}

func TestFetchPost_NoMediaIsPermanent(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items":[{"user":{"username":"johndoe"}}]}`)
	}))
	_, err := c.FetchPost(context.Background(), "vahj5AN8aek")
	if !services.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestListAccountPosts_Paginates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/users/web_profile_info/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("username") != "johndoe" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"data":{"user":{"id":"12345"}}}`)
	})
	mux.HandleFunc("/graphql/query/", func(w http.ResponseWriter, r *http.Request) {
		variables := r.URL.Query().Get("variables")
		if strings.Contains(variables, `"after":""`) {
			fmt.Fprint(w, `{"data":{"user":{"edge_owner_to_timeline_media":{
				"page_info":{"has_next_page":true,"end_cursor":"CURSOR1"},
				"edges":[{"node":{"shortcode":"aaaaaaaaaaa"}},{"node":{"shortcode":"bbbbbbbbbbb"}}]}}}}`)
			return
		}
		fmt.Fprint(w, `{"data":{"user":{"edge_owner_to_timeline_media":{
			"page_info":{"has_next_page":false,"end_cursor":""},
			"edges":[{"node":{"shortcode":"ccccccccccc"}}]}}}}`)
	})
	c := newTestClient(t, mux)

	posts, err := c.ListAccountPosts(context.Background(), "johndoe")
	if err != nil {
		t.Fatalf("ListAccountPosts: %v", err)
	}
	want := []string{"aaaaaaaaaaa", "bbbbbbbbbbb", "ccccccccccc"}
	if len(posts) != len(want) {
		t.Fatalf("got %d posts, want %d", len(posts), len(want))
	}
	for i, p := range posts {
		if p != want[i] {
			t.Fatalf("post %d: got %q, want %q", i, p, want[i])
		}
	}
}

func TestListAccountPosts_UnknownAccount(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"user":{}}}`)
	}))
	_, err := c.ListAccountPosts(context.Background(), "ghost")
	if !services.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}
