package ledger

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/vreid/arena/internal/pkg/common"
	bolt "go.etcd.io/bbolt"
)

// The functions in this file run inside a caller's write transaction so a
// state change and its holds commit or roll back together.

func account(tx *bolt.Tx, participant string, asset Asset) (*Account, error) {
	result, err := common.GetRecord[Account](tx, common.AccountsBucket, AccountKey(participant, asset))
	if errors.Is(err, common.ErrNotFound) {
		return &Account{Participant: participant, Asset: asset}, nil
	}

	return result, err
}

func Lookup(tx *bolt.Tx, participant string, asset Asset) (*Account, error) {
	return account(tx, participant, asset)
}

func Available(tx *bolt.Tx, participant string, asset Asset) (int64, error) {
	acc, err := account(tx, participant, asset)
	if err != nil {
		return 0, err
	}

	return acc.Available(), nil
}

func positive(amount int64) error {
	if amount <= 0 {
		return common.Errorf(common.KindInvalidArgument, "amount must be positive")
	}

	return nil
}

func Deposit(tx *bolt.Tx, participant string, asset Asset, amount int64) error {
	err := positive(amount)
	if err != nil {
		return err
	}

	acc, err := account(tx, participant, asset)
	if err != nil {
		return err
	}

	if acc.Balance > math.MaxInt64-amount {
		return common.Errorf(common.KindInvalidArgument,
			"depositing %d %s would overflow the balance of %s", amount, asset, participant)
	}

	acc.Balance += amount

	return common.PutRecord(tx, common.AccountsBucket, acc)
}

func Withdraw(tx *bolt.Tx, participant string, asset Asset, amount int64) error {
	err := positive(amount)
	if err != nil {
		return err
	}

	acc, err := account(tx, participant, asset)
	if err != nil {
		return err
	}

	if acc.Available() < amount {
		return common.Errorf(common.KindInsufficientBalance,
			"%s has %d %s available, needs %d", participant, acc.Available(), asset, amount)
	}

	acc.Balance -= amount

	return common.PutRecord(tx, common.AccountsBucket, acc)
}

// Transfer moves available funds between participants.
func Transfer(tx *bolt.Tx, from, to string, asset Asset, amount int64) error {
	if amount == 0 {
		return nil
	}

	err := Withdraw(tx, from, asset, amount)
	if err != nil {
		return err
	}

	return Deposit(tx, to, asset, amount)
}

// Reserve checks and reserves in one step. Reserving zero creates no hold.
func Reserve(tx *bolt.Tx, holdID, participant string, asset Asset, amount int64) error {
	if amount == 0 {
		return nil
	}

	err := positive(amount)
	if err != nil {
		return err
	}

	acc, err := account(tx, participant, asset)
	if err != nil {
		return err
	}

	if acc.Available() < amount {
		return common.Errorf(common.KindInsufficientBalance,
			"%s has %d %s available, needs %d", participant, acc.Available(), asset, amount)
	}

	acc.Reserved += amount

	err = common.PutRecord(tx, common.AccountsBucket, acc)
	if err != nil {
		return err
	}

	return common.PutRecord(tx, common.HoldsBucket, &Hold{
		ID:          holdID,
		Participant: participant,
		Asset:       asset,
		Amount:      amount,
		CreatedAt:   time.Now().UTC(),
	})
}

func getHold(tx *bolt.Tx, holdID string) (*Hold, error) {
	return common.GetRecord[Hold](tx, common.HoldsBucket, holdID)
}

func GetHold(tx *bolt.Tx, holdID string) (*Hold, error) {
	return getHold(tx, holdID)
}

func deleteHold(tx *bolt.Tx, holdID string) error {
	//nolint:wrapcheck
	return tx.Bucket([]byte(common.HoldsBucket)).Delete([]byte(holdID))
}

func frozen(hold *Hold) error {
	return common.Errorf(common.KindWrongState, "hold %s is frozen by a dispute", hold.ID)
}

// Release returns whatever remains of a hold to the holder's available balance.
// Releasing a hold that doesn't exist is a no-op.
func Release(tx *bolt.Tx, holdID string) error {
	hold, err := getHold(tx, holdID)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}

	if err != nil {
		return err
	}

	if hold.Frozen {
		return frozen(hold)
	}

	acc, err := account(tx, hold.Participant, hold.Asset)
	if err != nil {
		return err
	}

	acc.Reserved -= hold.Amount
	if acc.Reserved < 0 {
		return fmt.Errorf("reserved balance of %s went negative releasing %s", acc.RecordID(), holdID)
	}

	err = common.PutRecord(tx, common.AccountsBucket, acc)
	if err != nil {
		return err
	}

	return deleteHold(tx, holdID)
}

// Freeze marks a hold as under dispute. A frozen hold can be neither settled
// nor released until whatever closes the dispute thaws it.
func Freeze(tx *bolt.Tx, holdID string) error {
	return setFrozen(tx, holdID, true)
}

func Thaw(tx *bolt.Tx, holdID string) error {
	return setFrozen(tx, holdID, false)
}

func setFrozen(tx *bolt.Tx, holdID string, value bool) error {
	hold, err := getHold(tx, holdID)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}

	if err != nil {
		return err
	}

	if hold.Frozen == value {
		return nil
	}

	hold.Frozen = value

	return common.PutRecord(tx, common.HoldsBucket, hold)
}

// Settle moves amount out of a hold to a recipient. The holder's balance and
// reservation both shrink; a settlement to the holder only unreserves.
func Settle(tx *bolt.Tx, holdID, to string, amount int64) error {
	if amount == 0 {
		return nil
	}

	err := positive(amount)
	if err != nil {
		return err
	}

	hold, err := getHold(tx, holdID)
	if err != nil {
		return err
	}

	if hold.Frozen {
		return frozen(hold)
	}

	if hold.Amount < amount {
		return fmt.Errorf("hold %s has %d, cannot settle %d", holdID, hold.Amount, amount)
	}

	from, err := account(tx, hold.Participant, hold.Asset)
	if err != nil {
		return err
	}

	from.Reserved -= amount
	from.Balance -= amount

	err = common.PutRecord(tx, common.AccountsBucket, from)
	if err != nil {
		return err
	}

	// Re-read so a payout to the holder sees the write above.
	err = Deposit(tx, to, hold.Asset, amount)
	if err != nil {
		return err
	}

	hold.Amount -= amount
	if hold.Amount == 0 {
		return deleteHold(tx, holdID)
	}

	return common.PutRecord(tx, common.HoldsBucket, hold)
}

// Total sums every balance of an asset. Transitions move funds around but
// never change this number; only deposits and withdrawals do.
func Total(tx *bolt.Tx, asset Asset) (int64, error) {
	var total int64

	err := common.ForEachRecord(tx, common.AccountsBucket, func(acc *Account) error {
		if acc.Asset == asset {
			total += acc.Balance
		}

		return nil
	})

	return total, err
}

func Balances(tx *bolt.Tx, participant string) ([]Balance, error) {
	result := make([]Balance, 0, 2)

	for _, asset := range []Asset{AssetETH, AssetUSDC} {
		acc, err := account(tx, participant, asset)
		if err != nil {
			return nil, err
		}

		result = append(result, Balance{
			Asset:     asset,
			Balance:   acc.Balance,
			Reserved:  acc.Reserved,
			Available: acc.Available(),
		})
	}

	return result, nil
}
