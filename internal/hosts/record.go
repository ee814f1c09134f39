package hosts

import "strings"

// 屏蔽地址
const (
	BlockAddr  = "0.0.0.0"
	BlockAddr6 = "::0"
)

// Record 一条屏蔽记录: 地址 + 单个域名
type Record struct {
	Addr   string
	Domain string
}

// Block 返回 0.0.0.0 屏蔽记录
func Block(domain string) Record {
	return Record{Addr: BlockAddr, Domain: domain}
}

// String 返回 hosts 行格式
func (r Record) String() string {
	return r.Addr + " " + r.Domain
}

// Set 一次运行内的有序记录集合
type Set struct {
	records []Record
}

// NewSet 创建记录集合
func NewSet(records ...Record) *Set {
	s := &Set{}
	s.Append(records...)
	return s
}

// Append 追加记录
func (s *Set) Append(records ...Record) {
	s.records = append(s.records, records...)
}

// Len 记录数量
func (s *Set) Len() int {
	return len(s.records)
}

// Records 返回记录副本
func (s *Set) Records() []Record {
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Lines 返回 hosts 行
func (s *Set) Lines() []string {
	out := make([]string, len(s.records))
	for i, r := range s.records {
		out[i] = r.String()
	}
	return out
}

// HasBlock 是否存在精确的 0.0.0.0 <domain> 记录
func (s *Set) HasBlock(domain string) bool {
	for _, r := range s.records {
		if r.Addr == BlockAddr && r.Domain == domain {
			return true
		}
	}
	return false
}

// CountFamily 按地址统计记录数量
func (s *Set) CountFamily(addr string) int {
	n := 0
	for _, r := range s.records {
		if r.Addr == addr {
			n++
		}
	}
	return n
}

// Text 用换行连接所有记录, 末尾带换行
func (s *Set) Text() string {
	if len(s.records) == 0 {
		return ""
	}
	return strings.Join(s.Lines(), "\n") + "\n"
}
