package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"llm_eval_backend/internal/config"
	"llm_eval_backend/pkg/logger"
	"os"
	"path/filepath"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// StorageProvider 评测产物（裁判模型理由等）的存储接口
type StorageProvider interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Name() string
}

// LocalStorageProvider 本地存储实现
type LocalStorageProvider struct {
	Config *config.StorageConfig
}

func (p *LocalStorageProvider) path(key string) string {
	return filepath.Join(p.Config.LocalPath, filepath.FromSlash(key))
}

func (p *LocalStorageProvider) Put(ctx context.Context, key string, data []byte, contentType string) error {
	dst := p.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

func (p *LocalStorageProvider) Get(ctx context.Context, key string) ([]byte, error) {
	return os.ReadFile(p.path(key))
}

func (p *LocalStorageProvider) Delete(ctx context.Context, key string) error {
	err := os.Remove(p.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (p *LocalStorageProvider) Name() string { return "local" }

// MinioStorageProvider MinIO存储实现
type MinioStorageProvider struct {
	Config *config.StorageConfig
	Client *minio.Client
}

func NewMinioStorageProvider(cfg *config.StorageConfig) (*MinioStorageProvider, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessID, cfg.MinioSecret, ""),
		Secure: false,
	})
	if err != nil {
		return nil, err
	}
	return &MinioStorageProvider{Config: cfg, Client: client}, nil
}

func (p *MinioStorageProvider) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := p.Client.PutObject(ctx, p.Config.MinioBucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (p *MinioStorageProvider) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := p.Client.GetObject(ctx, p.Config.MinioBucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

func (p *MinioStorageProvider) Delete(ctx context.Context, key string) error {
	return p.Client.RemoveObject(ctx, p.Config.MinioBucket, key, minio.RemoveObjectOptions{})
}

func (p *MinioStorageProvider) Name() string { return "minio" }

// OSSStorageProvider 阿里云OSS存储实现
type OSSStorageProvider struct {
	Config *config.StorageConfig
	Client *oss.Client
}

func NewOSSStorageProvider(cfg *config.StorageConfig) (*OSSStorageProvider, error) {
	client, err := oss.New(cfg.OSSEndpoint, cfg.OSSAccessKey, cfg.OSSSecretKey)
	if err != nil {
		return nil, err
	}
	return &OSSStorageProvider{Config: cfg, Client: client}, nil
}

func (p *OSSStorageProvider) Put(ctx context.Context, key string, data []byte, contentType string) error {
	bucket, err := p.Client.Bucket(p.Config.OSSBucket)
	if err != nil {
		return err
	}
	return bucket.PutObject(key, bytes.NewReader(data), oss.ContentType(contentType))
}

func (p *OSSStorageProvider) Get(ctx context.Context, key string) ([]byte, error) {
	bucket, err := p.Client.Bucket(p.Config.OSSBucket)
	if err != nil {
		return nil, err
	}
	body, err := bucket.GetObject(key)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

func (p *OSSStorageProvider) Delete(ctx context.Context, key string) error {
	bucket, err := p.Client.Bucket(p.Config.OSSBucket)
	if err != nil {
		return err
	}
	return bucket.DeleteObject(key)
}

func (p *OSSStorageProvider) Name() string { return "oss" }

// StorageService 存储服务
type StorageService struct {
	Provider StorageProvider
}

func NewStorageService(cfg *config.Config) *StorageService {
	var provider StorageProvider
	switch cfg.Storage.Type {
	case "minio":
		p, err := NewMinioStorageProvider(&cfg.Storage)
		if err != nil {
			logger.Log.Warn("MinIO初始化失败，回退到本地存储", zap.Error(err))
		} else {
			provider = p
		}
	case "oss":
		p, err := NewOSSStorageProvider(&cfg.Storage)
		if err != nil {
			logger.Log.Warn("OSS初始化失败，回退到本地存储", zap.Error(err))
		} else {
			provider = p
		}
	}

	if provider == nil {
		provider = &LocalStorageProvider{Config: &cfg.Storage}
	}

	return &StorageService{Provider: provider}
}

const rationalePrefix = "rationales/"

// SaveRationale 保存评测理由，返回写入 Evaluation.RationaleRef 的引用
func (s *StorageService) SaveRationale(ctx context.Context, batchID uint, text string) (string, error) {
	key := fmt.Sprintf("%s%d/%s.txt", rationalePrefix, batchID, uuid.NewString())
	if err := s.Provider.Put(ctx, key, []byte(text), "text/plain; charset=utf-8"); err != nil {
		return "", fmt.Errorf("save rationale: %w", err)
	}
	return s.Provider.Name() + ":" + key, nil
}

// LoadRationale 按引用读取评测理由
func (s *StorageService) LoadRationale(ctx context.Context, ref string) (string, error) {
	key, err := s.keyOf(ref)
	if err != nil {
		return "", err
	}
	data, err := s.Provider.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *StorageService) DeleteRationale(ctx context.Context, ref string) error {
	key, err := s.keyOf(ref)
	if err != nil {
		return err
	}
	return s.Provider.Delete(ctx, key)
}

func (s *StorageService) keyOf(ref string) (string, error) {
	name, key, ok := strings.Cut(ref, ":")
	if !ok || name != s.Provider.Name() || !strings.HasPrefix(key, rationalePrefix) {
		return "", fmt.Errorf("unknown rationale ref %q", ref)
	}
	return key, nil
}
