package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/ppiankov/tootrelay/internal/source"
)

const maxErrorBody = 4 << 10

type mediaResponse struct {
	ID string `json:"id"`
}

type statusRequest struct {
	Status     string   `json:"status"`
	Visibility string   `json:"visibility"`
	MediaIDs   []string `json:"media_ids,omitempty"`
}

// uploadMedia downloads the item's media to the cache and uploads it. The
// cached file is removed whatever the outcome.
func (p *Publisher) uploadMedia(ctx context.Context, item source.Item) (string, error) {
	path := p.mediaPath(item.ID)
	defer func() { _ = os.Remove(path) }()

	if err := p.downloader.Download(ctx, item.MediaURL, path); err != nil {
		return "", errors.Mark(errors.Wrap(err, "download media"), ErrPublish)
	}

	body, contentType, err := multipartFile(path)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.dest.URL+"/api/v1/media", body)
	if err != nil {
		return "", errors.Wrap(err, "new media request")
	}
	req.Header.Set("Content-Type", contentType)
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", errors.Mark(errors.Wrap(err, "upload media"), ErrPublish)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Mark(errors.Newf("upload media: HTTP %d: %s", resp.StatusCode, readSnippet(resp.Body)), ErrPublish)
	}

	var media mediaResponse
	if err := json.NewDecoder(resp.Body).Decode(&media); err != nil {
		return "", errors.Mark(errors.Wrap(err, "decode media response"), ErrPublish)
	}
	if media.ID == "" {
		return "", errors.Mark(errors.New("media response has no id"), ErrPublish)
	}
	return media.ID, nil
}

// postStatus posts text with the item id as idempotency key, so a replayed
// call cannot create a second status.
func (p *Publisher) postStatus(ctx context.Context, itemID, text, mediaID string) error {
	payload := statusRequest{Status: text, Visibility: visibility}
	if mediaID != "" {
		payload.MediaIDs = []string{mediaID}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "encode status")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.dest.URL+"/api/v1/statuses", bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "new status request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", itemID)
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "post status"), ErrPublish)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return errors.Mark(errors.Newf("post status: HTTP %d: %s", resp.StatusCode, readSnippet(resp.Body)), ErrPublish)
	}
	return nil
}

func (p *Publisher) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.dest.Token)
}

func multipartFile(path string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", errors.Wrap(err, "open media file")
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", errors.Wrap(err, "create form file")
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", errors.Wrap(err, "copy media")
	}
	if err := mw.Close(); err != nil {
		return nil, "", errors.Wrap(err, "close multipart")
	}
	return &buf, mw.FormDataContentType(), nil
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return string(b)
}
