// Package downloader implements the Instagram content source. It fetches
// post metadata over Instagram's web API, downloads every media item of a
// post into the local staging area, and lists the posts of an account with
// cursor pagination.
//
// Outbound requests are throttled with a token-bucket limiter so the bot's
// traffic stays well under Instagram's thresholds regardless of how many
// queue workers are active. HTTP failures are classified for the processor:
// 429 and 5xx responses are transient, 401/403/404 are permanent.
package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/obervinov/instabot-downloader/internal/config"
	"github.com/obervinov/instabot-downloader/internal/services"
)

const (
	// profileEndpoint resolves a username to its numeric id.
	profileEndpoint = "/api/v1/users/web_profile_info/"

	// mediaEndpoint pages through an account's posts.
	mediaEndpoint = "/graphql/query/"

	// mediaQueryHash identifies the "user media" GraphQL query.
	mediaQueryHash = "e769aa130647d2354c40ea6a439bfc08"

	// mediaPageSize is the page size used for account listings.
	mediaPageSize = 50
)

// Client is an Instagram web API client implementing services.ContentSource.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger

	baseURL   string
	userAgent string
	sessionID string
	tempDir   string
}

// New constructs a Client from configuration. tempDir is the staging root
// shared with the processor.
func New(cfg config.InstagramConfig, tempDir string, log zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		log:        log,
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
		sessionID:  cfg.SessionID,
		tempDir:    tempDir,
	}
}

// postInfo is the subset of the post metadata response the bot needs.
type postInfo struct {
	Items []struct {
		User struct {
			Username string `json:"username"`
		} `json:"user"`
		ImageVersions struct {
			Candidates []struct {
				URL string `json:"url"`
			} `json:"candidates"`
		} `json:"image_versions2"`
		VideoVersions []struct {
			URL string `json:"url"`
		} `json:"video_versions"`
		CarouselMedia []struct {
			ImageVersions struct {
				Candidates []struct {
					URL string `json:"url"`
				} `json:"candidates"`
			} `json:"image_versions2"`
			VideoVersions []struct {
				URL string `json:"url"`
			} `json:"video_versions"`
		} `json:"carousel_media"`
	} `json:"items"`
}

// mediaItem is one downloadable file of a post.
type mediaItem struct {
	url   string
	video bool
}

// FetchPost downloads all media of a post into <tempDir>/<owner>/<postID>.
func (c *Client) FetchPost(ctx context.Context, postID string) (*services.PostContent, error) {
	infoURL := fmt.Sprintf("%s/p/%s/?__a=1&__d=dis", c.baseURL, postID)
	body, err := c.get(ctx, "instagram.fetch_post", infoURL)
	if err != nil {
		return nil, err
	}

	var info postInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, services.Permanent("instagram.fetch_post", fmt.Errorf("decode post metadata: %w", err))
	}
	if len(info.Items) == 0 {
		return nil, services.Permanent("instagram.fetch_post", fmt.Errorf("post %s has no items", postID))
	}
	item := info.Items[0]
	owner := item.User.Username
	if owner == "" {
		owner = "undefined"
	}

	var media []mediaItem
	if len(item.CarouselMedia) > 0 {
		for _, cm := range item.CarouselMedia {
			if len(cm.VideoVersions) > 0 {
				media = append(media, mediaItem{url: cm.VideoVersions[0].URL, video: true})
			} else if len(cm.ImageVersions.Candidates) > 0 {
				media = append(media, mediaItem{url: cm.ImageVersions.Candidates[0].URL})
			}
		}
	} else if len(item.VideoVersions) > 0 {
		media = append(media, mediaItem{url: item.VideoVersions[0].URL, video: true})
	} else if len(item.ImageVersions.Candidates) > 0 {
		media = append(media, mediaItem{url: item.ImageVersions.Candidates[0].URL})
	}
	if len(media) == 0 {
		return nil, services.Permanent("instagram.fetch_post", fmt.Errorf("post %s has no downloadable media", postID))
	}

	dir := filepath.Join(c.tempDir, owner, postID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, services.Transient("instagram.fetch_post", err)
	}
	for i, m := range media {
		ext := ".jpg"
		if m.video {
			ext = ".mp4"
		}
		dest := filepath.Join(dir, fmt.Sprintf("%d%s", i+1, ext))
		if err := c.downloadFile(ctx, m.url, dest); err != nil {
			return nil, err
		}
	}

	c.log.Info().
		Str("post_id", postID).
		Str("owner", owner).
		Int("files", len(media)).
		Msg("post media downloaded")
	return &services.PostContent{Owner: owner, Dir: dir, Files: len(media)}, nil
}

// profileInfo is the subset of the profile response the bot needs.
type profileInfo struct {
	Data struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	} `json:"data"`
}

// mediaPage is one page of an account's media listing.
type mediaPage struct {
	Data struct {
		User struct {
			Media struct {
				PageInfo struct {
					HasNextPage bool   `json:"has_next_page"`
					EndCursor   string `json:"end_cursor"`
				} `json:"page_info"`
				Edges []struct {
					Node struct {
						Shortcode string `json:"shortcode"`
					} `json:"node"`
				} `json:"edges"`
			} `json:"edge_owner_to_timeline_media"`
		} `json:"user"`
	} `json:"data"`
}

// ListAccountPosts returns the shortcodes of every post of an account,
// paging through the media listing until exhausted.
func (c *Client) ListAccountPosts(ctx context.Context, owner string) ([]string, error) {
	params := url.Values{}
	params.Set("username", owner)
	body, err := c.get(ctx, "instagram.list_account", c.baseURL+profileEndpoint+"?"+params.Encode())
	if err != nil {
		return nil, err
	}
	var profile profileInfo
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, services.Permanent("instagram.list_account", fmt.Errorf("decode profile: %w", err))
	}
	userID := profile.Data.User.ID
	if userID == "" {
		return nil, services.Permanent("instagram.list_account", fmt.Errorf("account %s not found", owner))
	}

	var shortcodes []string
	cursor := ""
	for {
		q := url.Values{}
		q.Set("query_hash", mediaQueryHash)
		q.Set("variables", fmt.Sprintf(`{"id":%q,"first":%d,"after":%q}`, userID, mediaPageSize, cursor))
		body, err := c.get(ctx, "instagram.list_account", c.baseURL+mediaEndpoint+"?"+q.Encode())
		if err != nil {
			return nil, err
		}
		var page mediaPage
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, services.Permanent("instagram.list_account", fmt.Errorf("decode media page: %w", err))
		}
		media := page.Data.User.Media
		for _, edge := range media.Edges {
			shortcodes = append(shortcodes, edge.Node.Shortcode)
		}
		if !media.PageInfo.HasNextPage || media.PageInfo.EndCursor == "" {
			break
		}
		cursor = media.PageInfo.EndCursor
	}

	c.log.Info().Str("owner", owner).Int("posts", len(shortcodes)).Msg("account posts listed")
	return shortcodes, nil
}

// get performs a throttled GET and returns the response body. Status codes
// are mapped to the processor's failure classes.
func (c *Client) get(ctx context.Context, op, rawURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, services.Permanent(op, err)
	}
	c.decorate(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, services.Transient(op, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(op, resp.StatusCode); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Transient(op, err)
	}
	return body, nil
}

// downloadFile streams a media URL to a local file.
func (c *Client) downloadFile(ctx context.Context, rawURL, dest string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return services.Permanent("instagram.download_media", err)
	}
	c.decorate(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Transient("instagram.download_media", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus("instagram.download_media", resp.StatusCode); err != nil {
		return err
	}

	f, err := os.Create(dest)
	if err != nil {
		return services.Transient("instagram.download_media", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(dest)
		return services.Transient("instagram.download_media", err)
	}
	return nil
}

// decorate applies the browser headers and the optional session cookie.
func (c *Client) decorate(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("X-IG-App-ID", "936619743392459")
	if c.sessionID != "" {
		req.AddCookie(&http.Cookie{Name: "sessionid", Value: c.sessionID})
	}
}

// classifyStatus maps an HTTP status to the retryability classes.
func classifyStatus(op string, code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return services.Transient(op, fmt.Errorf("rate limited (status %d)", code))
	case code == http.StatusUnauthorized, code == http.StatusForbidden, code == http.StatusNotFound:
		return services.Permanent(op, fmt.Errorf("status %d", code))
	case code >= 500:
		return services.Transient(op, fmt.Errorf("server error (status %d)", code))
	default:
		return services.Permanent(op, fmt.Errorf("unexpected status %d", code))
	}
}
