package transcribe

import (
	"strings"
	"sync"
)

// Live 浏览器识别器推送过来的实时文本。
// 连续识别会产生多段 final，按到达顺序拼接；interim 只保留最新一条。
type Live struct {
	mu      sync.RWMutex
	final   []string
	interim string
}

func (l *Live) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.final = nil
	l.interim = ""
}

// Update 记录一条识别结果
func (l *Live) Update(text string, final bool) {
	text = strings.TrimSpace(text)
	l.mu.Lock()
	defer l.mu.Unlock()
	if final {
		if text != "" {
			l.final = append(l.final, text)
		}
		l.interim = ""
		return
	}
	l.interim = text
}

// Latest 返回当前最佳文本：有 final 用 final，否则用最新 interim
func (l *Live) Latest() (text string, final bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.final) > 0 {
		return strings.Join(l.final, " "), true
	}
	return l.interim, false
}
