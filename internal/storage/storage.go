// Package storage 图片对象存储：上传前压缩到限定尺寸，返回公开地址
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"sudooom.planverse/internal/model"
)

var (
	ErrTooLarge         = errors.New("image too large")
	ErrUnsupportedImage = errors.New("unsupported image")
)

// Config 存储配置
type Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	// PublicURL 对外访问前缀，为空时按 endpoint 拼接
	PublicURL    string `mapstructure:"public_url"`
	MaxBytes     int64  `mapstructure:"max_bytes"`
	MaxDimension int    `mapstructure:"max_dimension"`
	Quality      int    `mapstructure:"quality"`
}

func (c *Config) defaults() {
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 << 20
	}
	if c.MaxDimension <= 0 {
		c.MaxDimension = 1280
	}
	if c.Quality <= 0 || c.Quality > 100 {
		c.Quality = 82
	}
}

// Storage MinIO 存储
type Storage struct {
	cfg    Config
	client *minio.Client
}

// New 创建
func New(cfg Config) (*Storage, error) {
	cfg.defaults()
	client, err := minio.New(strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "http://"), "https://"), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Storage{cfg: cfg, client: client}, nil
}

// EnsureBucket 桶不存在时创建
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return err
	}
	if !exists {
		return s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{})
	}
	return nil
}

// Ping 就绪检查
func (s *Storage) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	return err
}

// Upload 压缩并上传，返回公开地址
func (s *Storage) Upload(ctx context.Context, ownerID string, u *model.Upload) (string, error) {
	if int64(len(u.Data)) > s.cfg.MaxBytes {
		return "", ErrTooLarge
	}
	data, contentType, err := Compress(u.Data, s.cfg.MaxDimension, s.cfg.Quality)
	if err != nil {
		return "", err
	}

	key := ObjectKey(ownerID, contentType)
	_, err = s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "public, max-age=31536000, immutable",
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return s.publicURL(key), nil
}

func (s *Storage) publicURL(key string) string {
	base := s.cfg.PublicURL
	if base == "" {
		scheme := "http"
		if s.cfg.UseSSL {
			scheme = "https"
		}
		host := strings.TrimPrefix(strings.TrimPrefix(s.cfg.Endpoint, "http://"), "https://")
		base = fmt.Sprintf("%s://%s/%s", scheme, host, s.cfg.Bucket)
	}
	return strings.TrimRight(base, "/") + "/" + key
}

// ObjectKey images/{owner}/{uuid}.{ext}
func ObjectKey(ownerID, contentType string) string {
	ext := "jpg"
	if contentType == "image/png" {
		ext = "png"
	}
	return fmt.Sprintf("images/%s/%s.%s", ownerID, uuid.NewString(), ext)
}

// Compress 按 EXIF 方向摆正，长边超过 maxDim 时等比缩小
// PNG 保留透明通道仍输出 PNG，其他格式统一转为 JPEG
func Compress(data []byte, maxDim, quality int) ([]byte, string, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	b := img.Bounds()
	if b.Dx() > maxDim || b.Dy() > maxDim {
		img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if format == "png" {
		if err := imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression)); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/png", nil
	}
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "image/jpeg", nil
}
