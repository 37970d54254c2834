package speech

// Voice 引擎上报的一个可用音色
type Voice struct {
	Name    string `json:"name"`
	Lang    string `json:"lang"`
	Local   bool   `json:"local,omitempty"`
	Default bool   `json:"default,omitempty"`
}

// Traits 引擎的已知缺陷，会影响分段长度与段间停顿
type Traits struct {
	// DropsLongUtterances 为 true 时长句会被引擎静默截断（Safari / macOS）
	DropsLongUtterances bool
}

// Utterance 交给引擎播放的一段文本。
// 引擎必须恰好回调 OnEnd 或 OnError 其中之一；被 Cancel 的段可以不回调。
type Utterance struct {
	ID      string
	Text    string
	Voice   *Voice
	Rate    float64
	Volume  float64
	OnEnd   func()
	OnError func(err error)
}

// Engine 语音合成引擎的原语。只有 Manager 会调用这些方法。
type Engine interface {
	Voices() []Voice
	// OnVoicesChanged 注册音色列表变化回调，异步加载音色的引擎需要它
	OnVoicesChanged(fn func())
	Speak(u Utterance) error
	Cancel()
	Resume()
	Speaking() bool
	Traits() Traits
}

// Capability 会话开始时确定一次的引擎可用性
type Capability struct {
	engine Engine
}

// Available 包装一个可用引擎
func Available(e Engine) Capability {
	return Capability{engine: e}
}

// Unavailable 没有语音合成能力，只显示文字
func Unavailable() Capability {
	return Capability{}
}

// Engine 返回引擎以及是否可用
func (c Capability) Engine() (Engine, bool) {
	return c.engine, c.engine != nil
}
