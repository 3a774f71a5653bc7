package domain

// GlobalRegion is the region label used when a client gives none.
const GlobalRegion = "GLOBAL"

type Mode string

const (
	ModeNone   Mode = ""
	ModeRandom Mode = "random"
	ModeRegion Mode = "region"
)

func (m Mode) Valid() bool { return m == ModeRandom || m == ModeRegion }

func NormalizeRegion(region string) string {
	if region == "" {
		return GlobalRegion
	}
	return region
}

// WaitingEntry is one connection waiting to be paired.
type WaitingEntry struct {
	Conn   ConnID
	Region string
}
