package ledger

import (
	"time"

	"github.com/vreid/arena/internal/pkg/common"
)

type Asset string

const (
	AssetETH  Asset = "eth"
	AssetUSDC Asset = "usdc"
)

func (a Asset) Validate() error {
	switch a {
	case AssetETH, AssetUSDC:
		return nil
	default:
		return common.Errorf(common.KindInvalidArgument, "unknown asset %q", a)
	}
}

// Account is one participant's position in one asset. Balance includes
// Reserved; Available is what new holds may draw on.
type Account struct {
	Participant string `json:"participant"`
	Asset       Asset  `json:"asset"`
	Balance     int64  `json:"balance"`
	Reserved    int64  `json:"reserved"`
	Version     int64  `json:"version"`
}

func (a *Account) Available() int64 { return a.Balance - a.Reserved }

func (a *Account) RecordID() string         { return AccountKey(a.Participant, a.Asset) }
func (a *Account) RecordVersion() int64     { return a.Version }
func (a *Account) SetRecordVersion(v int64) { a.Version = v }

func AccountKey(participant string, asset Asset) string {
	return participant + "/" + string(asset)
}

type Hold struct {
	ID          string    `json:"id"`
	Participant string    `json:"participant"`
	Asset       Asset     `json:"asset"`
	Amount      int64     `json:"amount"`
	Frozen      bool      `json:"frozen"`
	CreatedAt   time.Time `json:"created_at"`
	Version     int64     `json:"version"`
}

func (h *Hold) RecordID() string         { return h.ID }
func (h *Hold) RecordVersion() int64     { return h.Version }
func (h *Hold) SetRecordVersion(v int64) { h.Version = v }

type Balance struct {
	Asset     Asset `json:"asset"`
	Balance   int64 `json:"balance"`
	Reserved  int64 `json:"reserved"`
	Available int64 `json:"available"`
}
