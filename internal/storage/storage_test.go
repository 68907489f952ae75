package storage

import (
	"bytes"
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.planverse/internal/model"
)

func encode(t *testing.T, w, h int, format imaging.Format) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 80, B: 40, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, format))
	return buf.Bytes()
}

func TestCompress_FitsLongEdge(t *testing.T) {
	data, contentType, err := Compress(encode(t, 2560, 1280, imaging.JPEG), 1280, 80)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", contentType)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 1280, cfg.Width)
	assert.Equal(t, 640, cfg.Height)
}

func TestCompress_SmallImageKeepsSize(t *testing.T) {
	data, _, err := Compress(encode(t, 300, 200, imaging.JPEG), 1280, 80)
	require.NoError(t, err)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.Width)
	assert.Equal(t, 200, cfg.Height)
}

func TestCompress_PNGStaysPNG(t *testing.T) {
	_, contentType, err := Compress(encode(t, 64, 64, imaging.PNG), 1280, 80)
	require.NoError(t, err)
	assert.Equal(t, "image/png", contentType)
}

func TestCompress_RejectsGarbage(t *testing.T) {
	_, _, err := Compress([]byte("not an image"), 1280, 80)
	assert.ErrorIs(t, err, ErrUnsupportedImage)
}

func TestUpload_RejectsOversize(t *testing.T) {
	s, err := New(Config{Endpoint: "localhost:9000", Bucket: "planverse", MaxBytes: 8})
	require.NoError(t, err)

	_, err = s.Upload(t.Context(), "u1", &model.Upload{Filename: "a.jpg", Data: make([]byte, 16)})
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestPublicURL(t *testing.T) {
	s, err := New(Config{Endpoint: "http://minio:9000", Bucket: "planverse"})
	require.NoError(t, err)
	assert.Equal(t, "http://minio:9000/planverse/images/u1/x.jpg", s.publicURL("images/u1/x.jpg"))

	s, err = New(Config{Endpoint: "minio:9000", Bucket: "planverse", PublicURL: "https://cdn.planverse.app/"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.planverse.app/images/u1/x.jpg", s.publicURL("images/u1/x.jpg"))

	key := ObjectKey("u1", "image/png")
	assert.True(t, strings.HasPrefix(key, "images/u1/"))
	assert.True(t, strings.HasSuffix(key, ".png"))
}
