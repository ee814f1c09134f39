package override

import (
	"bufio"
	"bytes"
	"errors"
	"io/fs"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/idna"

	apperr "github.com/winspan/hostsblock/pkg/errors"
	"github.com/winspan/hostsblock/pkg/utils"
)

// Kind 名单类型
type Kind string

const (
	Whitelist Kind = "whitelist"
	Blacklist Kind = "blacklist"
)

// List 一个覆盖名单文件
type List struct {
	Kind    Kind
	Path    string
	Entries []string

	lines []string
}

// Load 读取名单文件. 路径为空或文件不存在时返回空名单.
func Load(kind Kind, path string) (*List, error) {
	l := &List{Kind: kind, Path: path}
	if path == "" {
		return l, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return l, nil
		}
		return nil, apperr.Wrapf(err, apperr.ErrOverrideIO, "读取%s失败: %s", kind, path)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		l.lines = append(l.lines, line)
		if entry := CleanEntry(line); entry != "" {
			l.Entries = append(l.Entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, apperr.Wrapf(err, apperr.ErrOverrideIO, "读取%s失败: %s", kind, path)
	}
	return l, nil
}

// CleanEntry 去掉注释和所有空白, 非 ASCII 域名转为 punycode
func CleanEntry(line string) string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	line = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, line)
	if line == "" || isASCII(line) {
		return line
	}
	if ascii, err := idna.ToASCII(line); err == nil {
		return ascii
	}
	return line
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// Remove 从文件中删除清理后等于给定条目的行, 注释和其他行保持不变
func (l *List) Remove(entries ...string) error {
	if len(entries) == 0 || l.Path == "" {
		return nil
	}
	drop := make(map[string]bool, len(entries))
	for _, e := range entries {
		drop[e] = true
	}

	var (
		buf     bytes.Buffer
		kept    []string
		keptEnt []string
	)
	for _, line := range l.lines {
		entry := CleanEntry(line)
		if entry != "" && drop[entry] {
			continue
		}
		kept = append(kept, line)
		if entry != "" {
			keptEnt = append(keptEnt, entry)
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}

	mode := os.FileMode(0644)
	if info, err := os.Stat(l.Path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := utils.WriteAtomic(l.Path, buf.Bytes(), mode); err != nil {
		return apperr.Wrapf(err, apperr.ErrOverrideIO, "更新%s失败: %s", l.Kind, l.Path)
	}

	l.lines = kept
	l.Entries = keptEnt
	return nil
}
