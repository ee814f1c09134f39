package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FileUtils 文件工具函数
type FileUtils struct{}

// EnsureDir 确保目录存在
func (f *FileUtils) EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// FileExists 检查文件是否存在
func (f *FileUtils) FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// WriteAtomic 先写入同目录临时文件再重命名, 失败时临时文件会被删除
func (f *FileUtils) WriteAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := f.EnsureDir(dir); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("同步临时文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("关闭临时文件失败: %w", err)
	}
	// CreateTemp 固定使用 0600, 这里按目标权限修正
	if err := os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("设置文件权限失败: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("替换文件失败: %w", err)
	}
	committed = true
	return nil
}

// CryptoUtils 加密工具函数
type CryptoUtils struct{}

// SHA256Hash 计算 SHA256 哈希
func (c *CryptoUtils) SHA256Hash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// SHA256File 计算文件的 SHA256, 文件不存在时 exists 为 false
func (c *CryptoUtils) SHA256File(path string) (sum string, exists bool, err error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	defer file.Close()

	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", true, err
	}
	return hex.EncodeToString(h.Sum(nil)), true, nil
}

// 全局工具实例
var (
	File   = &FileUtils{}
	Crypto = &CryptoUtils{}
)

// 便捷函数
func EnsureDir(path string) error {
	return File.EnsureDir(path)
}

func FileExists(path string) bool {
	return File.FileExists(path)
}

func WriteAtomic(path string, data []byte, mode os.FileMode) error {
	return File.WriteAtomic(path, data, mode)
}

func SHA256Hash(data []byte) string {
	return Crypto.SHA256Hash(data)
}

func SHA256File(path string) (string, bool, error) {
	return Crypto.SHA256File(path)
}
