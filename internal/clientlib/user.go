package clientlib

import (
	"os"
	"path/filepath"

	"github.com/CamberLoid/TrustlessSwap/internal/key"
	"github.com/CamberLoid/TrustlessSwap/internal/users"
)

const (
	DefaultConfigDirPath    = ".config/TrustlessSwap"
	DefaultKeystoreFileName = "keystore.json"
	DefaultDatabaseFileName = "client.db"
)

// DefaultDir 返回客户端的默认数据目录
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, DefaultConfigDirPath)
}

// CreateUser 生成新的密钥并写入 path。path 已存在时返回错误，避免覆盖已有的账户
func CreateUser(path, name string) (*users.User, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, os.ErrExist
	}
	kc, err := key.GenerateKeyChain()
	if err != nil {
		return nil, err
	}
	if err = key.SaveKeyChain(path, kc); err != nil {
		return nil, err
	}
	return users.NewUserFromKeyChain(name, kc), nil
}

// LoadUser 从密钥文件中读取用户
func LoadUser(path, name string) (*users.User, error) {
	kc, err := key.LoadKeyChain(path)
	if err != nil {
		return nil, err
	}
	return users.NewUserFromKeyChain(name, kc), nil
}
