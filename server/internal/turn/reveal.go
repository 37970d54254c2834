package turn

import (
	"iter"
	"time"
	"unicode/utf8"
)

// Reveal 按固定节奏逐字产出 text 的前缀，最后一个前缀是完整文本。
// 消费方停止迭代即取消。
func Reveal(text string, interval time.Duration) iter.Seq[string] {
	return func(yield func(string) bool) {
		for i := 0; i < len(text); {
			_, size := utf8.DecodeRuneInString(text[i:])
			if i > 0 && interval > 0 {
				time.Sleep(interval)
			}
			i += size
			if !yield(text[:i]) {
				return
			}
		}
	}
}
