package fees

// Schedule is the platform fee policy. BasisPoints apply to the pool (both
// stakes); Minimum is the floor in minor units.
type Schedule struct {
	BasisPoints int64 `json:"basis_points"`
	Minimum     int64 `json:"minimum"`
}

type Quote struct {
	Stake int64 `json:"stake"`
	Pool  int64 `json:"pool"`
	Fee   int64 `json:"fee"`

	CreatorShare  int64 `json:"creator_share"`
	OpponentShare int64 `json:"opponent_share"`

	Payout int64 `json:"payout"`
}

// CreatorHold is what the creator must reserve: stake plus fee share.
func (q Quote) CreatorHold() int64 { return q.Stake + q.CreatorShare }

func (q Quote) OpponentHold() int64 { return q.Stake + q.OpponentShare }
