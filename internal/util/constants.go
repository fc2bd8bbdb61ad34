package util

const (
	StorageLocal = "local"
	StorageMinio = "minio"
	StorageOSS   = "oss"
)

const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 200
)
