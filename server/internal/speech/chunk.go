package speech

import (
	"strings"
	"unicode/utf8"
)

// Split 把文本切成不超过 max 个字符的段，用于规避引擎截断长句。
// 优先在句末（. ! ?）切分，超长句再按子句（, ;）切分，从不在词中间切开。
// 没有任何边界的连续片段会单独成段，允许超过 max。
// 空白会被规整为单个空格：strings.Join(Split(t, n), " ") == strings.Join(strings.Fields(t), " ")。
func Split(text string, max int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if max <= 0 {
		return []string{strings.Join(words, " ")}
	}

	var units []string
	for _, sentence := range group(words, endsSentence) {
		if utf8.RuneCountInString(sentence) <= max {
			units = append(units, sentence)
			continue
		}
		units = append(units, group(strings.Fields(sentence), endsClause)...)
	}
	return pack(units, max)
}

// group 在满足 boundary 的词之后断开
func group(words []string, boundary func(string) bool) []string {
	var out []string
	start := 0
	for i, w := range words {
		if boundary(w) {
			out = append(out, strings.Join(words[start:i+1], " "))
			start = i + 1
		}
	}
	if start < len(words) {
		out = append(out, strings.Join(words[start:], " "))
	}
	return out
}

// pack 贪心合并相邻单元，合并后不超过 max
func pack(units []string, max int) []string {
	var out []string
	cur, curLen := "", 0
	for _, u := range units {
		n := utf8.RuneCountInString(u)
		if cur == "" {
			cur, curLen = u, n
			continue
		}
		if curLen+1+n <= max {
			cur += " " + u
			curLen += 1 + n
			continue
		}
		out = append(out, cur)
		cur, curLen = u, n
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

func endsSentence(word string) bool {
	return endsWith(word, ".!?")
}

func endsClause(word string) bool {
	return endsWith(word, ",;")
}

// endsWith 忽略结尾的引号与括号
func endsWith(word, marks string) bool {
	w := strings.TrimRight(word, `"')]”’`)
	if w == "" {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(w)
	return strings.ContainsRune(marks, r)
}
