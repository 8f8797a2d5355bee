// Package uploader implements the WebDav target storage. Staged media
// directories are mirrored to the remote side under a configured root, one
// directory per account and one per post, so backups stay browsable in any
// WebDav-capable file manager.
package uploader

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/studio-b12/gowebdav"

	"github.com/obervinov/instabot-downloader/internal/config"
	"github.com/obervinov/instabot-downloader/internal/services"
)

// Client uploads staged media to a WebDav server. It implements
// services.TargetStorage.
type Client struct {
	dav     *gowebdav.Client
	log     zerolog.Logger
	rootDir string
}

// New constructs a Client from configuration.
func New(cfg config.WebDavConfig, log zerolog.Logger) *Client {
	return &Client{
		dav:     gowebdav.NewClient(cfg.URL, cfg.Username, cfg.Password),
		log:     log,
		rootDir: cfg.RootDir,
	}
}

// Ping verifies the connection and creates the remote root directory.
// Called once at startup so a misconfigured endpoint fails fast.
func (c *Client) Ping() error {
	if err := c.dav.Connect(); err != nil {
		return fmt.Errorf("webdav connect: %w", err)
	}
	if err := c.dav.MkdirAll(c.rootDir, 0o755); err != nil {
		return fmt.Errorf("webdav create root %q: %w", c.rootDir, err)
	}
	return nil
}

// Upload mirrors localDir into <root>/<destDir>/<base(localDir)> on the
// remote side. Every regular file under localDir is written; the remote
// directory tree is created as needed. A missing local directory is a
// permanent failure since retrying cannot make the files appear.
func (c *Client) Upload(ctx context.Context, localDir, destDir string) error {
	if _, err := os.Stat(localDir); err != nil {
		return services.Permanent("webdav.upload", fmt.Errorf("staging dir: %w", err))
	}

	remoteBase := path.Join(c.rootDir, destDir, filepath.Base(localDir))
	if err := c.dav.MkdirAll(remoteBase, 0o755); err != nil {
		return classify("webdav.upload", err)
	}

	uploaded := 0
	err := filepath.Walk(localDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return services.Permanent("webdav.upload", err)
		}
		if info.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return services.Permanent("webdav.upload", err)
		}
		remote := path.Join(remoteBase, filepath.ToSlash(rel))

		f, err := os.Open(p)
		if err != nil {
			return services.Permanent("webdav.upload", err)
		}
		defer f.Close()

		if err := c.dav.WriteStream(remote, f, 0o644); err != nil {
			return classify("webdav.upload", err)
		}
		uploaded++
		return nil
	})
	if err != nil {
		return err
	}

	c.log.Info().
		Str("local", localDir).
		Str("remote", remoteBase).
		Int("files", uploaded).
		Msg("media uploaded")
	return nil
}

// classify maps WebDav failures to the processor's retryability classes.
// Authentication and authorization problems will not heal on retry; anything
// else (network errors, 5xx) is worth the retry budget.
func classify(op string, err error) error {
	for _, code := range []int{
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
	} {
		if gowebdav.IsErrCode(err, code) {
			return services.Permanent(op, err)
		}
	}
	return services.Transient(op, err)
}
