// Package validate checks POST /api/generate input before any filesystem
// work happens.
package validate

import (
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/nadzzz/face2voice/internal/config"
	"github.com/nadzzz/face2voice/internal/message"
)

// supportedExtensions are the image extensions the synthesis pipeline reads.
var supportedExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
}

// Validator enforces text and image limits.
type Validator struct {
	maxTextLength   int
	maxImages       int
	maxImageBytes   int64
	defaultLanguage string
}

// New creates a Validator from the generation limits.
func New(cfg config.GenerationConfig) *Validator {
	lang := cfg.DefaultLanguage
	if lang == "" {
		lang = "en"
	}
	return &Validator{
		maxTextLength:   cfg.MaxTextLength,
		maxImages:       cfg.MaxImages,
		maxImageBytes:   cfg.MaxImageBytes,
		defaultLanguage: lang,
	}
}

// Validate returns the request in canonical form, or the first violated
// constraint as a *message.Error. Image extensions are not checked here;
// see ImageExtension.
func (v *Validator) Validate(text, language string, images []message.Image) (*message.GenerationRequest, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, message.Errorf(message.KindMissingText, "text is required")
	}
	if n := utf8.RuneCountInString(text); n > v.maxTextLength {
		return nil, message.Errorf(message.KindTextTooLong, "text is too long (%d characters, max %d)", n, v.maxTextLength)
	}

	if len(images) == 0 {
		return nil, message.Errorf(message.KindNoImages, "at least one image is required")
	}
	if len(images) > v.maxImages {
		return nil, message.Errorf(message.KindTooManyImages, "too many images (%d, max %d)", len(images), v.maxImages)
	}

	if v.maxImageBytes > 0 {
		for _, img := range images {
			if img.Size > v.maxImageBytes {
				return nil, message.Errorf(message.KindImageTooLarge, "image %q is too large (max %d bytes)", img.Filename, v.maxImageBytes)
			}
		}
	}

	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" {
		language = v.defaultLanguage
	}

	return &message.GenerationRequest{
		Text:     text,
		Language: language,
		Images:   images,
	}, nil
}

// ImageExtension returns the lowercase extension of filename if the pipeline
// accepts it, or an unsupported_image_format error naming the file.
func ImageExtension(filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := supportedExtensions[ext]; !ok {
		return "", message.Errorf(message.KindUnsupportedImageFormat, "unsupported image format: %s (allowed: .jpg, .jpeg, .png)", filename)
	}
	return ext, nil
}
