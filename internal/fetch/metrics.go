package fetch

import "time"

// Tier 标记结果来源，用于日志与指标。
type Tier string

const (
	TierStub    Tier = "stub"
	TierMemory  Tier = "memory"
	TierDisk    Tier = "disk"
	TierNetwork Tier = "network"
	TierMiss    Tier = "miss"
)

// OutcomeOK 是成功传输在指标中的结果标签，失败时使用错误的 Kind。
const OutcomeOK = "ok"

// Metrics 接收引擎内部事件。传入 nil 时不做任何记录。
type Metrics interface {
	ObserveLookup(origin string, tier Tier)
	ObserveTransferStarted(origin string)
	ObserveTransferJoined(origin string)
	ObserveTransfer(origin string, outcome string, bytes int, duration time.Duration)
}

func observeLookup(m Metrics, origin string, tier Tier) {
	if m != nil {
		m.ObserveLookup(origin, tier)
	}
}

func observeTransferStarted(m Metrics, origin string) {
	if m != nil {
		m.ObserveTransferStarted(origin)
	}
}

func observeTransferJoined(m Metrics, origin string) {
	if m != nil {
		m.ObserveTransferJoined(origin)
	}
}

func observeTransfer(m Metrics, origin string, outcome string, bytes int, duration time.Duration) {
	if m != nil {
		m.ObserveTransfer(origin, outcome, bytes, duration)
	}
}
