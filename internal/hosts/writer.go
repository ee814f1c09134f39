package hosts

import (
	"bytes"
	"context"
	"os"

	apperr "github.com/winspan/hostsblock/pkg/errors"
	"github.com/winspan/hostsblock/pkg/utils"
)

// Header 输出文件固定头部, 不含时间戳以保证内容未变时校验和一致
const Header = `# This hosts file is generated by hostsblock.
# Local edits are overwritten on the next run; use the whitelist and
# blacklist files instead.

127.0.0.1 localhost
::1 localhost

`

// Render 生成完整文件内容
func Render(s *Set) []byte {
	var buf bytes.Buffer
	buf.Grow(len(Header) + s.Len()*32)
	buf.WriteString(Header)
	buf.WriteString(s.Text())
	return buf.Bytes()
}

// WriteResult 写入结果
type WriteResult struct {
	Changed  bool
	Checksum string
	Records  int
	Bytes    int
}

// Writer 输出文件写入器
type Writer struct {
	Path string
	Mode os.FileMode
}

// Write 仅在内容校验和变化或文件不存在时原子替换输出文件,
// 内容相同时不触碰原文件 (包括修改时间).
func (w *Writer) Write(ctx context.Context, s *Set) (WriteResult, error) {
	data := Render(s)
	res := WriteResult{
		Checksum: utils.SHA256Hash(data),
		Records:  s.Len(),
		Bytes:    len(data),
	}

	oldSum, exists, err := utils.SHA256File(w.Path)
	if err != nil {
		return res, apperr.Wrapf(err, apperr.ErrOutputWrite, "读取现有输出文件失败: %s", w.Path)
	}
	if exists && oldSum == res.Checksum {
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		return res, apperr.Wrap(err, apperr.ErrInterrupted, "写入前被中断")
	}

	mode := w.Mode
	if mode == 0 {
		mode = 0644
	}
	if err := utils.WriteAtomic(w.Path, data, mode); err != nil {
		return res, apperr.Wrapf(err, apperr.ErrOutputWrite, "写入输出文件失败: %s", w.Path)
	}
	res.Changed = true
	return res, nil
}
