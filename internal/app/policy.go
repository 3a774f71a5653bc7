package app

import "github.com/dkeye/Duet/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens when a client cannot keep up with its
// outbound frames. dropped counts the frames already lost on that connection.
type Policy interface {
	OnBackPressure(conn domain.ConnID, dropped int) BackpressureAction
}

// SimplePolicy disconnects slow clients on the first full buffer.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.ConnID, int) BackpressureAction {
	return KickMember
}

// TolerantPolicy drops frames until MaxDrops is exceeded, then kicks.
type TolerantPolicy struct {
	MaxDrops int
}

func (p TolerantPolicy) OnBackPressure(_ domain.ConnID, dropped int) BackpressureAction {
	if dropped >= p.MaxDrops {
		return KickMember
	}
	return DropFrame
}

// NewPolicy maps a config name to a policy; unknown names fall back to kick.
func NewPolicy(name string, maxDrops int) Policy {
	if name == "drop" {
		return TolerantPolicy{MaxDrops: maxDrops}
	}
	return SimplePolicy{}
}
