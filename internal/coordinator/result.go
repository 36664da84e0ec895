package coordinator

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/sharding-experiment/facilitator/internal/protocol"
)

// DeclareResult is the outcome of Stake or Redeem.
type DeclareResult struct {
	Message     *protocol.Message `json:"message"`
	MessageHash common.Hash       `json:"message_hash"`
	HashLock    common.Hash       `json:"hash_lock"`
	// UnlockSecret is set only when the hash lock was generated here. It is
	// not stored anywhere; the caller must keep it for the progress step.
	UnlockSecret *common.Hash        `json:"unlock_secret,omitempty"`
	Approvals    []*protocol.Receipt `json:"approvals,omitempty"`
	Receipt      *protocol.Receipt   `json:"receipt"`
}

// ConfirmResult is the outcome of ConfirmStakeIntent or ConfirmRedeemIntent.
type ConfirmResult struct {
	MessageHash common.Hash `json:"message_hash"`
	// AlreadyConfirmed means the target inbox was past Undeclared and nothing
	// was submitted.
	AlreadyConfirmed bool                       `json:"already_confirmed"`
	Checkpoint       *protocol.AnchorCheckpoint `json:"checkpoint,omitempty"`
	ProveReceipt     *protocol.Receipt          `json:"prove_receipt,omitempty"`
	ConfirmReceipt   *protocol.Receipt          `json:"confirm_receipt,omitempty"`
}

// ProgressResult is the outcome of progressing one box.
type ProgressResult struct {
	MessageHash common.Hash `json:"message_hash"`
	Side        string      `json:"side"`
	Box         string      `json:"box"`
	// AlreadyProgressed means the box was Progressed and nothing was
	// submitted.
	AlreadyProgressed bool              `json:"already_progressed"`
	Receipt           *protocol.Receipt `json:"receipt,omitempty"`
}

// CompositeResult is the outcome of confirm plus both progress steps. Branch
// results are set for every branch that succeeded, even when the other
// failed.
type CompositeResult struct {
	MessageHash common.Hash     `json:"message_hash"`
	Confirm     *ConfirmResult  `json:"confirm,omitempty"`
	Origin      *ProgressResult `json:"origin,omitempty"`
	Auxiliary   *ProgressResult `json:"auxiliary,omitempty"`
}

// BoxStatus is the pair of slots of one gateway.
type BoxStatus struct {
	Outbox protocol.MessageStatus `json:"outbox"`
	Inbox  protocol.MessageStatus `json:"inbox"`
}

// StatusResult reports a message on both ledgers.
type StatusResult struct {
	MessageHash common.Hash `json:"message_hash"`
	Origin      BoxStatus   `json:"origin"`
	Auxiliary   BoxStatus   `json:"auxiliary"`
}
