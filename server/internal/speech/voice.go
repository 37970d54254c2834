package speech

import (
	"strings"
)

// SelectVoice 按固定顺序选择音色：
// 1. preferred 中按顺序第一个名字匹配且语言前缀相符的
// 2. 本地且语言完全匹配 locale 的，其次任意完全匹配的
// 3. 语言以 locale 前缀开头的
// 4. 列表第一个
// voices 为空时返回 false。
func SelectVoice(voices []Voice, locale string, preferred []string) (Voice, bool) {
	if len(voices) == 0 {
		return Voice{}, false
	}
	locale = normalizeLang(locale)
	prefix := locale
	if i := strings.Index(prefix, "-"); i > 0 {
		prefix = prefix[:i]
	}
	hasPrefix := func(v Voice) bool {
		return strings.HasPrefix(normalizeLang(v.Lang), prefix)
	}

	for _, name := range preferred {
		for _, v := range voices {
			if strings.Contains(v.Name, name) && hasPrefix(v) {
				return v, true
			}
		}
	}
	for _, v := range voices {
		if v.Local && normalizeLang(v.Lang) == locale {
			return v, true
		}
	}
	for _, v := range voices {
		if normalizeLang(v.Lang) == locale {
			return v, true
		}
	}
	for _, v := range voices {
		if hasPrefix(v) {
			return v, true
		}
	}
	return voices[0], true
}

func normalizeLang(lang string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(lang), "_", "-"))
}
