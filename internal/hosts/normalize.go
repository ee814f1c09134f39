package hosts

import (
	"net"
	"strings"
)

// LineFilter 单行过滤器, 返回 false 表示删除该行
type LineFilter struct {
	Name  string
	Apply func(line string) (string, bool)
}

// Filters 固定顺序的过滤链, 后面的步骤依赖前面已完成的字符过滤
var Filters = []LineFilter{
	{Name: "strip-cr", Apply: StripCR},
	{Name: "loopback-to-block", Apply: LoopbackToBlock},
	{Name: "strip-comment", Apply: StripComment},
	{Name: "squeeze-space", Apply: SqueezeSpace},
	{Name: "valid-charset", Apply: ValidCharset},
	{Name: "block-address", Apply: BlockAddress},
	{Name: "drop-localhost", Apply: DropLocalhost},
	{Name: "require-domain", Apply: RequireDomain},
	{Name: "alnum-domain", Apply: AlnumDomain},
}

// StripCR 删除回车符
func StripCR(line string) (string, bool) {
	return strings.ReplaceAll(line, "\r", ""), true
}

// LoopbackToBlock 把 127.0.0.1 改写为 0.0.0.0
func LoopbackToBlock(line string) (string, bool) {
	return strings.ReplaceAll(line, "127.0.0.1", BlockAddr), true
}

// StripComment 删除 # 到行尾
func StripComment(line string) (string, bool) {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	return line, true
}

// SqueezeSpace 去掉行尾空白, 制表符和连续空格压缩为一个空格
func SqueezeSpace(line string) (string, bool) {
	line = strings.TrimRight(line, " \t")
	if !strings.ContainsAny(line, "\t") && !strings.Contains(line, "  ") {
		return line, true
	}

	var b strings.Builder
	b.Grow(len(line))
	prevSpace := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		if c == ' ' || c == '\t' {
			if !prevSpace {
				b.WriteByte(' ')
			}
			prevSpace = true
			continue
		}
		prevSpace = false
		b.WriteByte(c)
	}
	return b.String(), true
}

// ValidCharset 删除含有 [a-zA-Z0-9._ -] 之外字符的行
func ValidCharset(line string) (string, bool) {
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == ' ', c == '-':
		default:
			return "", false
		}
	}
	return line, true
}

// BlockAddress 删除地址字段不是 0.0.0.0 的行
func BlockAddress(line string) (string, bool) {
	if line == BlockAddr || strings.HasPrefix(line, BlockAddr+" ") {
		return line, true
	}
	return "", false
}

// DropLocalhost 删除 0.0.0.0 localhost 自身条目
func DropLocalhost(line string) (string, bool) {
	switch line {
	case BlockAddr + " localhost", BlockAddr + " localhost.localdomain":
		return "", false
	}
	return line, true
}

// RequireDomain 删除地址后没有域名的行
func RequireDomain(line string) (string, bool) {
	if domainOf(line) == "" {
		return "", false
	}
	return line, true
}

// AlnumDomain 删除域名首字符不是字母数字的行
func AlnumDomain(line string) (string, bool) {
	d := domainOf(line)
	if d == "" || !isAlnum(d[0]) {
		return "", false
	}
	return line, true
}

// NormalizeLine 依次执行过滤链
func NormalizeLine(line string) (string, bool) {
	for _, f := range Filters {
		var ok bool
		if line, ok = f.Apply(line); !ok {
			return "", false
		}
	}
	return line, true
}

// Normalize 把原始行规范化为记录集合. 一行含多个主机名时拆为多条记录,
// 每个主机名单独再经过一次过滤链, 其中的 IP 地址字段不算主机名.
func Normalize(lines []string) *Set {
	set := &Set{records: make([]Record, 0, len(lines))}
	for _, raw := range lines {
		line, ok := NormalizeLine(raw)
		if !ok {
			continue
		}
		for _, name := range strings.Split(line[len(BlockAddr)+1:], " ") {
			if net.ParseIP(name) != nil {
				continue
			}
			if one, ok := NormalizeLine(BlockAddr + " " + name); ok {
				set.Append(Block(domainOf(one)))
			}
		}
	}
	return set
}

// domainOf 返回地址后的第一个字段
func domainOf(line string) string {
	i := strings.IndexByte(line, ' ')
	if i < 0 {
		return ""
	}
	rest := line[i+1:]
	if j := strings.IndexByte(rest, ' '); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
