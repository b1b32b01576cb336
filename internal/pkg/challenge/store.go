package challenge

import (
	"sort"

	"github.com/vreid/arena/internal/pkg/common"
	bolt "go.etcd.io/bbolt"
)

func HoldID(challengeID, participantID string) string {
	return "challenge/" + challengeID + "/" + participantID
}

func Load(tx *bolt.Tx, id string) (*Challenge, error) {
	return common.GetRecord[Challenge](tx, common.ChallengesBucket, id)
}

func Save(tx *bolt.Tx, c *Challenge) error {
	return common.PutRecord(tx, common.ChallengesBucket, c)
}

func LoadDispute(tx *bolt.Tx, id string) (*Dispute, error) {
	return common.GetRecord[Dispute](tx, common.DisputesBucket, id)
}

func SaveDispute(tx *bolt.Tx, d *Dispute) error {
	return common.PutRecord(tx, common.DisputesBucket, d)
}

// ListByParticipant returns the participant's challenges, newest first.
func ListByParticipant(tx *bolt.Tx, participantID string, includeTerminal bool) ([]*Challenge, error) {
	result := []*Challenge{}

	err := common.ForEachRecord(tx, common.ChallengesBucket, func(c *Challenge) error {
		if !c.IsParty(participantID) {
			return nil
		}

		if !includeTerminal && c.Status.Terminal() {
			return nil
		}

		result = append(result, c)

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(result, func(a, b int) bool {
		return result[a].CreatedAt.After(result[b].CreatedAt)
	})

	return result, nil
}

func ListDisputes(tx *bolt.Tx, status DisputeStatus) ([]*Dispute, error) {
	result := []*Dispute{}

	err := common.ForEachRecord(tx, common.DisputesBucket, func(d *Dispute) error {
		if status == "" || d.Status == status {
			result = append(result, d)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(result, func(a, b int) bool {
		return result[a].OpenedAt.Before(result[b].OpenedAt)
	})

	return result, nil
}
