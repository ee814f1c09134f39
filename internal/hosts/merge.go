package hosts

import (
	"sort"
	"strings"
)

// MatchesEntry 白名单条目是否命中域名. 匹配锚定在域名开头,
// 因此 evil.com 不会命中 notevil.com.
func MatchesEntry(domain, entry string) bool {
	return entry != "" && strings.HasPrefix(domain, entry)
}

// Whitelisted 判断域名是否被任一白名单条目命中
func Whitelisted(domain string, whitelist []string) bool {
	for _, entry := range whitelist {
		if MatchesEntry(domain, entry) {
			return true
		}
	}
	return false
}

// AnyMatch 是否存在被该条目命中的记录
func (s *Set) AnyMatch(entry string) bool {
	for _, r := range s.records {
		if MatchesEntry(r.Domain, entry) {
			return true
		}
	}
	return false
}

// RemoveWhitelisted 删除被白名单命中的记录, 返回删除数量
func (s *Set) RemoveWhitelisted(whitelist []string) int {
	kept := s.records[:0]
	for _, r := range s.records {
		if !Whitelisted(r.Domain, whitelist) {
			kept = append(kept, r)
		}
	}
	removed := len(s.records) - len(kept)
	s.records = kept
	return removed
}

// AddBlacklisted 为每个非空黑名单条目追加一条屏蔽记录. 条目和远程源一样
// 经过过滤链, 含非法字符的条目 (例如 *.ads.com) 被跳过.
func (s *Set) AddBlacklisted(blacklist []string) int {
	n := 0
	for _, entry := range blacklist {
		if entry == "" {
			continue
		}
		line, ok := NormalizeLine(BlockAddr + " " + entry)
		if !ok || domainOf(line) != entry {
			continue
		}
		s.Append(Block(entry))
		n++
	}
	return n
}

// SortUnique 按行文本排序并去除完全重复的记录
func (s *Set) SortUnique() {
	// 地址相同时按域名排序, 与按整行文本排序结果一致
	sort.Slice(s.records, func(i, j int) bool {
		a, b := s.records[i], s.records[j]
		if a.Addr != b.Addr {
			return a.Addr < b.Addr
		}
		return a.Domain < b.Domain
	})
	out := s.records[:0]
	for _, r := range s.records {
		if len(out) > 0 && r == out[len(out)-1] {
			continue
		}
		out = append(out, r)
	}
	s.records = out
}

// Merge 先删除白名单, 再追加黑名单, 最后排序去重.
// 同时出现在两个名单中的域名最终仍会被屏蔽.
func (s *Set) Merge(whitelist, blacklist []string) (removed, added int) {
	removed = s.RemoveWhitelisted(whitelist)
	added = s.AddBlacklisted(blacklist)
	s.SortUnique()
	return removed, added
}

// DuplicateIPv6 为每条 0.0.0.0 记录追加一条 ::0 记录
func (s *Set) DuplicateIPv6() int {
	n := len(s.records)
	for i := 0; i < n; i++ {
		if r := s.records[i]; r.Addr == BlockAddr {
			s.records = append(s.records, Record{Addr: BlockAddr6, Domain: r.Domain})
		}
	}
	return len(s.records) - n
}
