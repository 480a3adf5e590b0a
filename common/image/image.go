package image

import (
	"bytes"
	"encoding/base64"
	stdimage "image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"regexp"
	"strings"

	"github.com/Laisky/errors/v2"
	_ "golang.org/x/image/webp"

	"github.com/relaymesh/gateway/common/client"
	"github.com/relaymesh/gateway/common/config"
)

var dataURLPattern = regexp.MustCompile(`data:image/([^;]+);base64,(.*)`)

func isImageResponse(resp *http.Response) error {
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("failed to fetch image, status code: %d", resp.StatusCode)
	}
	maxSize := int64(config.MaxInlineImageSizeMB) * 1024 * 1024
	if resp.ContentLength > maxSize {
		return errors.Errorf("image size exceeds %dMB limit: %d bytes", config.MaxInlineImageSizeMB, resp.ContentLength)
	}
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(contentType, "image/") && !strings.Contains(contentType, "application/octet-stream") {
		return errors.Errorf("invalid content type for image URL: %s", contentType)
	}
	return nil
}

// GetImageFromUrl resolves a data URL or a remote URL into its mime type and base64 payload,
// for providers (e.g. the OpenAI dialect) that require inline image content.
func GetImageFromUrl(url string) (mimeType string, data string, err error) {
	if matches := dataURLPattern.FindStringSubmatch(url); len(matches) == 3 {
		return "image/" + matches[1], matches[2], nil
	}

	resp, err := client.UserContentRequestHTTPClient.Get(url)
	if err != nil {
		return "", "", errors.Wrapf(err, "failed to fetch image URL: %s", url)
	}
	defer resp.Body.Close()

	if err := isImageResponse(resp); err != nil {
		return "", "", err
	}

	buf := bytes.NewBuffer(nil)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return "", "", errors.Wrap(err, "failed to read image body")
	}

	mimeType = resp.Header.Get("Content-Type")
	data = base64.StdEncoding.EncodeToString(buf.Bytes())
	return mimeType, data, nil
}

// GetImageSize decodes a data URL or remote image URL far enough to report its pixel dimensions,
// used for per-image token estimation in the OpenAI dialect.
func GetImageSize(img string) (width int, height int, err error) {
	if strings.HasPrefix(img, "data:image/") {
		matches := dataURLPattern.FindStringSubmatch(img)
		if len(matches) != 3 {
			return 0, 0, errors.New("malformed data URL")
		}
		decoded, err := base64.StdEncoding.DecodeString(matches[2])
		if err != nil {
			return 0, 0, errors.Wrap(err, "failed to decode base64 image")
		}
		cfg, _, err := stdimage.DecodeConfig(bytes.NewReader(decoded))
		if err != nil {
			return 0, 0, errors.Wrap(err, "failed to decode image")
		}
		return cfg.Width, cfg.Height, nil
	}

	resp, err := client.UserContentRequestHTTPClient.Get(img)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "failed to fetch image URL: %s", img)
	}
	defer resp.Body.Close()

	if err := isImageResponse(resp); err != nil {
		return 0, 0, err
	}

	cfg, _, err := stdimage.DecodeConfig(resp.Body)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to decode image")
	}
	return cfg.Width, cfg.Height, nil
}
